package domain

import (
	"context"
	"time"
)

// DecisionPublisher recebe decisões em modo fire-and-forget.
// Publish nunca bloqueia indefinidamente nem devolve erro para o caminho da requisição.
type DecisionPublisher interface {
	Publish(d Decision)
}

// DecisionSink é um destino de registros (log de auditoria, barramento de eventos).
// Entrega é at-least-once: consumidores devem ser idempotentes por RequestID.
type DecisionSink interface {
	Name() string
	Write(ctx context.Context, rec DecisionRecord) error
}

// EvaluatedKey é a forma serializada de um KeyResult.
type EvaluatedKey struct {
	Scope     Scope  `json:"scope"`
	ID        string `json:"id"`
	Limit     int    `json:"limit"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
	Allowed   bool   `json:"allowed"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// DecisionRecord é o payload de auditoria e do barramento de eventos.
type DecisionRecord struct {
	RequestID       string         `json:"request_id"`
	ClientRequestID string         `json:"client_request_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Endpoint        string         `json:"endpoint"`
	Method          string         `json:"method"`
	Verdict         Verdict        `json:"verdict"`
	LimitingScope   Scope          `json:"limiting_scope,omitempty"`
	RetryAfterMS    int64          `json:"retry_after_ms,omitempty"`
	Degraded        bool           `json:"degraded,omitempty"`
	EvaluatedKeys   []EvaluatedKey `json:"evaluated_keys"`
}

// NewDecisionRecord converte uma Decision no formato de registro.
func NewDecisionRecord(d Decision) DecisionRecord {
	keys := make([]EvaluatedKey, 0, len(d.Keys))
	for _, kr := range d.Keys {
		keys = append(keys, EvaluatedKey{
			Scope:     kr.Key.Scope,
			ID:        kr.Key.ID,
			Limit:     kr.Limit,
			Count:     kr.Count,
			Remaining: kr.Remaining,
			Allowed:   kr.Allowed,
			Degraded:  kr.Degraded,
		})
	}
	return DecisionRecord{
		RequestID:       d.RequestID,
		ClientRequestID: d.ClientRequestID,
		Timestamp:       d.At.UTC(),
		Endpoint:        d.Endpoint,
		Method:          d.Method,
		Verdict:         d.Verdict,
		LimitingScope:   d.LimitingScope,
		RetryAfterMS:    d.RetryAfter.Milliseconds(),
		Degraded:        d.Degraded,
		EvaluatedKeys:   keys,
	}
}
