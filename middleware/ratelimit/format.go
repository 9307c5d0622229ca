// formatação de valores em headers, sem passar por fmt.

package ratelimit

import (
	"math"
	"strconv"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatRetryAfter arredonda para cima: dizer "0" faria o cliente voltar cedo demais.
func formatRetryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

var scopeHeaderSuffix = map[domain.Scope]string{
	domain.ScopeIP:       "IP",
	domain.ScopeUser:     "User",
	domain.ScopeAPIKey:   "APIKey",
	domain.ScopeEndpoint: "Endpoint",
	domain.ScopeMethod:   "Method",
}

func limitHeader(sc domain.Scope) string     { return "X-RateLimit-Limit-" + scopeHeaderSuffix[sc] }
func remainingHeader(sc domain.Scope) string { return "X-RateLimit-Remaining-" + scopeHeaderSuffix[sc] }
