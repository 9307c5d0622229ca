// Package domain define contratos e tipos de domínio da camada de admissão
// (rate limit multi-escopo com janela deslizante).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, arquivos, banco).
package domain
