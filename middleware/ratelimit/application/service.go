package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// FailMode é a política global quando o WindowStore está indisponível.
type FailMode int

const (
	// FailOpen trata o escopo como permitido e registra a degradação.
	FailOpen FailMode = iota
	// FailClosed trata o escopo como estourado.
	FailClosed
)

func ParseFailMode(s string) (FailMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	}
	return FailOpen, &domain.ConfigError{Field: "fail_mode", Reason: fmt.Sprintf("unknown value %q (use open|closed)", s)}
}

func (m FailMode) String() string {
	if m == FailClosed {
		return "closed"
	}
	return "open"
}

// degradedRetryAfter é a dica de Retry-After quando a negação vem do fail-closed.
const degradedRetryAfter = 1 * time.Second

// Observer recebe notificações para métricas. Implementações não podem bloquear.
type Observer interface {
	Decided(d domain.Decision)
	StoreDegraded(sc domain.Scope, err error)
}

// Service concentra a regra de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Não guarda estado: é função do WindowStore + TierRegistry.
type Service struct {
	Store    domain.WindowStore
	Tiers    *TierRegistry
	FailMode FailMode
	// Now permite relógio controlado em testes. Padrão: time.Now.
	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

// Evaluate avalia todos os tiers aplicáveis e devolve uma decisão única.
//
// Todas as chaves são registradas, mesmo depois de um estouro: a requisição
// sempre consome uma unidade de cada escopo aplicável.
func (s Service) Evaluate(ctx context.Context, info RequestInfo) domain.Decision {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	dec := domain.Decision{
		RequestID:       info.RequestID,
		ClientRequestID: info.ClientRequestID,
		At:              now,
		Endpoint:        NormalizeEndpoint(info.Endpoint),
		Method:          NormalizeMethod(info.Method),
		Verdict:         domain.VerdictAllow,
	}

	keys := ExtractKeys(info)
	if len(keys) == 0 || s.Store == nil || s.Tiers == nil {
		s.observe(dec)
		return dec
	}

	dec.Keys = make([]domain.KeyResult, 0, len(keys))
	for _, key := range keys {
		tier, ok := s.Tiers.Limits(key.Scope)
		if !ok {
			continue
		}

		kr := s.evaluateKey(ctx, key, tier, now)
		dec.Keys = append(dec.Keys, kr)

		if !kr.Allowed && dec.LimitingScope == "" {
			dec.Verdict = domain.VerdictDeny
			dec.LimitingScope = key.Scope
			dec.RetryAfter = kr.RetryAfter
			dec.Degraded = kr.Degraded
		}
	}

	s.observe(dec)
	return dec
}

func (s Service) evaluateKey(ctx context.Context, key domain.Key, tier domain.Tier, now time.Time) domain.KeyResult {
	kr := domain.KeyResult{Key: key, Limit: tier.Limit}

	wc, err := s.Store.RecordAndCount(ctx, key, tier.Window, now)
	if err != nil {
		kr.Degraded = true
		s.logger().Warn("window store unavailable",
			"key", key.String(),
			"fail_mode", s.FailMode.String(),
			"error", err)
		if s.Observer != nil {
			s.Observer.StoreDegraded(key.Scope, err)
		}
		if s.FailMode == FailClosed {
			kr.RetryAfter = degradedRetryAfter
			return kr
		}
		kr.Allowed = true
		return kr
	}

	kr.Count = wc.Count
	kr.Remaining = max(0, tier.Limit-wc.Count)
	// a N-ésima requisição (N == limite) é a última permitida
	kr.Allowed = wc.Count <= tier.Limit
	if !kr.Allowed {
		kr.RetryAfter = residual(wc, tier.Window, now)
	}
	return kr
}

// residual é o tempo até o timestamp mais antigo sair da janela.
func residual(wc domain.WindowCount, window time.Duration, now time.Time) time.Duration {
	if wc.Oldest.IsZero() {
		return window
	}
	d := wc.Oldest.Add(window).Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

func (s Service) observe(dec domain.Decision) {
	if s.Observer != nil {
		s.Observer.Decided(dec)
	}
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
