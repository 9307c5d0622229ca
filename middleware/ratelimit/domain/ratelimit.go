package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictDeny  Verdict = "DENY"
)

// KeyResult é o resultado da avaliação de uma chave.
type KeyResult struct {
	Key       Key
	Limit     int
	Count     int
	Remaining int
	Allowed   bool
	// Degraded indica que o store não respondeu para esta chave e a
	// política de fallback decidiu o resultado.
	Degraded bool
	// RetryAfter é o tempo residual da janela quando a chave estourou.
	RetryAfter time.Duration
}

// Decision é produzida uma única vez por requisição e não deve ser alterada depois.
// Colaboradores (stats, publisher) recebem cópias.
type Decision struct {
	// RequestID é único por decisão e sempre gerado no servidor.
	RequestID       string
	ClientRequestID string
	At              time.Time
	Endpoint        string
	Method          string

	// Keys segue a ordem de ScopeOrder.
	Keys    []KeyResult
	Verdict Verdict
	// LimitingScope é o primeiro escopo estourado na ordem fixa; vazio quando ALLOW.
	LimitingScope Scope
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Degraded indica que a negação veio do fallback fail-closed.
	Degraded bool
}

func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

// Limiting devolve o KeyResult do escopo limitante, se houver.
func (d Decision) Limiting() (KeyResult, bool) {
	if d.LimitingScope == "" {
		return KeyResult{}, false
	}
	for _, kr := range d.Keys {
		if kr.Key.Scope == d.LimitingScope {
			return kr, true
		}
	}
	return KeyResult{}, false
}
