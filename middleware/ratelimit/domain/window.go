package domain

import (
	"context"
	"time"
)

// WindowCount é o estado de uma chave logo após uma operação no store.
type WindowCount struct {
	// Count é o número de timestamps retidos (now - t < window).
	Count int
	// Oldest é o timestamp retido mais antigo; zero se Count == 0.
	Oldest time.Time
}

// WindowStore mantém um log deslizante de timestamps por chave.
//
// RecordAndCount precisa ser atômico por chave: descarta entradas expiradas,
// adiciona now e devolve a contagem resultante num único passo. Chamadas
// concorrentes na mesma chave devem ser linearizáveis.
//
// Falhas de backend (erro/timeout) devem embrulhar ErrStoreUnavailable.
type WindowStore interface {
	RecordAndCount(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCount, error)
	// Peek tem a mesma semântica de expiração mas não altera a janela.
	Peek(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCount, error)
}
