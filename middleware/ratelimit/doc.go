// Package ratelimit fornece o gateway de admissão HTTP (net/http): rate limit
// multi-escopo por janela deslizante e limite de concorrência.
//
// Camadas:
//
//   - domain: escopos, tiers, decisões e contratos (sem net/http)
//   - application: extração de chaves, registro de tiers e a avaliação allow/deny
//   - infra: store de janelas (memória/Redis), estatísticas, publisher e sinks
//   - ratelimit (este pacote): middlewares HTTP, identidade do cliente e tradução
//     da decisão para status/headers
//
// Fluxo por requisição:
//
//  1. Resolve request id e identidade (IP, usuário, API key, endpoint, método)
//  2. Avalia todos os escopos e obtém uma única decisão
//  3. DENY responde 429 com Retry-After (503 quando o store caiu em fail-closed)
//  4. ALLOW chama o próximo handler (reverse proxy) com timeout de backend
//  5. Estatísticas e a publicação da decisão nunca bloqueiam a resposta
//
// A configuração do binário (cmd/gateway) vem de variáveis de ambiente como
// RATE_LIMIT_IP, FAIL_MODE, WINDOW_STORE, CONCURRENCY_MAX e BACKEND_TIMEOUT.
package ratelimit
