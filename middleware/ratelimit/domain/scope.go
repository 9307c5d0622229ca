package domain

import "strings"

// Scope é a dimensão em que um limite é aplicado.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeAPIKey   Scope = "apikey"
	ScopeEndpoint Scope = "endpoint"
	ScopeMethod   Scope = "method"
)

// ScopeOrder é a ordem fixa de avaliação (mais estreito primeiro).
// O desempate de LimitingScope depende dela, então não usar map para iterar escopos.
var ScopeOrder = []Scope{ScopeIP, ScopeUser, ScopeAPIKey, ScopeEndpoint, ScopeMethod}

// ParseScope aceita o nome do escopo sem diferenciar maiúsculas.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !sc.Valid() {
		return "", &ConfigError{Field: "scope", Reason: "unknown scope " + `"` + s + `"`}
	}
	return sc, nil
}

func (s Scope) Valid() bool {
	for _, known := range ScopeOrder {
		if s == known {
			return true
		}
	}
	return false
}

// Index devolve a posição do escopo em ScopeOrder, ou -1.
func (s Scope) Index() int {
	for i, known := range ScopeOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// Key identifica um contador de janela: (escopo, identificador).
// Chaves são derivadas da requisição, nunca persistidas como entidade.
type Key struct {
	Scope Scope
	ID    string
}

// String devolve o nome da chave no store: ratelimit:<scope>:<id>.
func (k Key) String() string {
	return "ratelimit:" + string(k.Scope) + ":" + k.ID
}
