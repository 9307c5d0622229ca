package domain

import "errors"

// ErrStoreUnavailable indica que o store de janelas não respondeu (erro ou timeout).
// O store nunca devolve uma contagem "padrão"; quem decide o fallback é a aplicação.
var ErrStoreUnavailable = errors.New("window store unavailable")

// ConfigError é fatal na inicialização (escopo desconhecido, limite/janela inválidos).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error: " + e.Field + ": " + e.Reason
}

// IsConfigError informa se err (ou algum erro embrulhado) é um *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
