package domain

import "time"

// Tier é o par (limite, janela) aplicado a um escopo.
type Tier struct {
	Scope  Scope
	Limit  int
	Window time.Duration
}

// DefaultTiers devolve os limites padrão, na ordem de ScopeOrder.
func DefaultTiers() []Tier {
	return []Tier{
		{Scope: ScopeIP, Limit: 100, Window: time.Minute},
		{Scope: ScopeUser, Limit: 500, Window: time.Minute},
		{Scope: ScopeAPIKey, Limit: 1000, Window: time.Minute},
		{Scope: ScopeEndpoint, Limit: 1000, Window: time.Minute},
		{Scope: ScopeMethod, Limit: 2000, Window: time.Minute},
	}
}

// Validate checa os invariantes de um tier isolado.
func (t Tier) Validate() error {
	if !t.Scope.Valid() {
		return &ConfigError{Field: "scope", Reason: "unknown scope " + `"` + string(t.Scope) + `"`}
	}
	if t.Limit <= 0 {
		return &ConfigError{Field: string(t.Scope) + ".limit", Reason: "must be > 0"}
	}
	if t.Window <= 0 {
		return &ConfigError{Field: string(t.Scope) + ".window", Reason: "must be > 0"}
	}
	return nil
}
