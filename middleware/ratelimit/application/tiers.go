package application

import (
	"admission-gateway/middleware/ratelimit/domain"
)

// TierRegistry é a tabela imutável escopo -> (limite, janela).
//
// Carregada uma vez na inicialização e compartilhada entre goroutines sem lock.
type TierRegistry struct {
	byScope [5]domain.Tier
}

// NewTierRegistry valida a tabela. Qualquer problema vira *domain.ConfigError,
// para falhar no startup e nunca em tempo de requisição.
func NewTierRegistry(tiers []domain.Tier) (*TierRegistry, error) {
	reg := &TierRegistry{}
	seen := make(map[domain.Scope]bool, len(tiers))
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Scope] {
			return nil, &domain.ConfigError{Field: string(t.Scope), Reason: "duplicate tier"}
		}
		seen[t.Scope] = true
		reg.byScope[t.Scope.Index()] = t
	}

	for _, sc := range domain.ScopeOrder {
		if !seen[sc] {
			return nil, &domain.ConfigError{Field: string(sc), Reason: "missing tier"}
		}
	}
	return reg, nil
}

// Limits devolve o tier de um escopo.
func (r *TierRegistry) Limits(sc domain.Scope) (domain.Tier, bool) {
	i := sc.Index()
	if r == nil || i < 0 {
		return domain.Tier{}, false
	}
	return r.byScope[i], true
}

// Tiers devolve uma cópia na ordem de domain.ScopeOrder.
func (r *TierRegistry) Tiers() []domain.Tier {
	out := make([]domain.Tier, len(r.byScope))
	copy(out, r.byScope[:])
	return out
}
