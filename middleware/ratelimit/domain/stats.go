package domain

import (
	"context"
	"time"
)

// StatsEvent representa o resultado de uma requisição concluída.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Endpoint são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Endpoint sem normalização pode
// explodir o número de chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Endpoint string
	Method   string
	Verdict  Verdict
	// Failed indica que o backend falhou (ou deu timeout) depois de ALLOW.
	Failed  bool
	Latency time.Duration

	At time.Time
}

// EndpointStats são os contadores cumulativos de um endpoint.
type EndpointStats struct {
	Allowed int64 `json:"allowed"`
	Blocked int64 `json:"blocked"`
	Errors  int64 `json:"errors"`
	// Count é o número de latências registradas.
	Count int64         `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// StatsStore é a estratégia de persistência para estatísticas por endpoint.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
