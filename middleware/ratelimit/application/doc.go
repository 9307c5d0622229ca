// Package application contém os casos de uso (regras de aplicação) da camada de admissão
// e do limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Evaluate(ctx, info) extrai as chaves, consulta o WindowStore
// para cada tier e devolve uma domain.Decision (ALLOW/DENY + escopo limitante).
package application
