package infra

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type tierFile struct {
	Tiers []tierEntry `yaml:"tiers"`
}

type tierEntry struct {
	Scope  string `yaml:"scope"`
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadTierFile lê a tabela de tiers em YAML e aplica sobre domain.DefaultTiers.
//
//	tiers:
//	  - scope: ip
//	    limit: 100
//	    window: 1m
func LoadTierFile(path string) ([]domain.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "tiers_file", Reason: err.Error()}
	}
	return ParseTiers(data)
}

func ParseTiers(data []byte) ([]domain.Tier, error) {
	var tf tierFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, &domain.ConfigError{Field: "tiers_file", Reason: err.Error()}
	}

	overrides := make([]domain.Tier, 0, len(tf.Tiers))
	seen := make(map[domain.Scope]bool, len(tf.Tiers))
	for _, e := range tf.Tiers {
		sc, err := domain.ParseScope(e.Scope)
		if err != nil {
			return nil, err
		}
		if seen[sc] {
			return nil, &domain.ConfigError{Field: string(sc), Reason: "duplicate tier in file"}
		}
		seen[sc] = true

		window, err := time.ParseDuration(strings.TrimSpace(e.Window))
		if err != nil {
			return nil, &domain.ConfigError{Field: string(sc) + ".window", Reason: err.Error()}
		}
		t := domain.Tier{Scope: sc, Limit: e.Limit, Window: window}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		overrides = append(overrides, t)
	}
	return MergeTiers(domain.DefaultTiers(), overrides...), nil
}

// ParseTierSpec interpreta "<limite>/<janela>", ex: "100/1m".
func ParseTierSpec(sc domain.Scope, def string) (domain.Tier, error) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(def), "/")
	if !ok {
		return domain.Tier{}, &domain.ConfigError{Field: string(sc), Reason: fmt.Sprintf("expected <limit>/<window>, got %q", def)}
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return domain.Tier{}, &domain.ConfigError{Field: string(sc) + ".limit", Reason: err.Error()}
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil {
		return domain.Tier{}, &domain.ConfigError{Field: string(sc) + ".window", Reason: err.Error()}
	}
	t := domain.Tier{Scope: sc, Limit: limit, Window: window}
	return t, t.Validate()
}

// MergeTiers substitui em base os tiers de mesmo escopo.
func MergeTiers(base []domain.Tier, overrides ...domain.Tier) []domain.Tier {
	out := append([]domain.Tier{}, base...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Scope == o.Scope {
				out[i] = o
				replaced = true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
