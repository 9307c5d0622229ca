package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo baseado em channel para requisições em voo.
type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
func NewChanPool(max int) *ChanPool {
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InUse devolve quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.sem) }
