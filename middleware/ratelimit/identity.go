package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/application"
)

// RequestInfoFunc traduz uma requisição HTTP para a entrada da avaliação.
type RequestInfoFunc func(r *http.Request) application.RequestInfo

// ClientIP resolve o IP do cliente: primeiro X-Forwarded-For (se confiável),
// depois o host de RemoteAddr.
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// UserID lê o usuário do header configurado; sem ele, deriva um id estável do
// token Bearer. O token em si nunca vira chave no store.
func UserID(r *http.Request, userHeader string) string {
	if userHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
			return v
		}
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return BearerID(token)
}

// BearerID é o id de usuário derivado de um token Bearer.
func BearerID(token string) string { return digestID("bearer-", token) }

// APIKeyID é o identificador de uma API key no store e nos registros de
// auditoria. A chave crua nunca sai do gateway.
func APIKeyID(key string) string { return digestID("key-", key) }

func digestID(prefix, secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return prefix + hex.EncodeToString(sum[:8])
}

// DefaultRequestInfo monta a RequestInfo a partir de headers e RemoteAddr.
// Não autentica nada: só extrai identificadores já presentes.
func DefaultRequestInfo(userHeader, apiKeyHeader string, trustXFF bool) RequestInfoFunc {
	return func(r *http.Request) application.RequestInfo {
		info := application.RequestInfo{
			RemoteIP: ClientIP(r, trustXFF),
			UserID:   UserID(r, userHeader),
			Endpoint: r.URL.Path,
			Method:   r.Method,
		}
		if apiKeyHeader != "" {
			info.APIKey = APIKeyID(r.Header.Get(apiKeyHeader))
		}
		return info
	}
}
