package application

import (
	"path"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// RequestInfo descreve a requisição para fins de admissão.
// Campos vazios significam "sem identificador" para aquele escopo.
type RequestInfo struct {
	// RequestID é gerado pelo gateway; ClientRequestID é o valor informado
	// pelo cliente, só para correlação.
	RequestID       string
	ClientRequestID string
	RemoteIP        string
	UserID          string
	APIKey          string
	Endpoint        string
	Method          string
}

// ExtractKeys devolve uma chave por escopo resolvível, na ordem de domain.ScopeOrder.
//
// Tráfego não autenticado simplesmente não gera chaves de user/apikey.
func ExtractKeys(info RequestInfo) []domain.Key {
	ids := [...]string{
		strings.TrimSpace(info.RemoteIP),
		strings.TrimSpace(info.UserID),
		strings.TrimSpace(info.APIKey),
		NormalizeEndpoint(info.Endpoint),
		NormalizeMethod(info.Method),
	}

	keys := make([]domain.Key, 0, len(ids))
	for i, sc := range domain.ScopeOrder {
		if ids[i] == "" {
			continue
		}
		keys = append(keys, domain.Key{Scope: sc, ID: ids[i]})
	}
	return keys
}

// NormalizeEndpoint limpa o path para evitar chaves duplicadas (/a/, /a, //a).
func NormalizeEndpoint(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

func NormalizeMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}
