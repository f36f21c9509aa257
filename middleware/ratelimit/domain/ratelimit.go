package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"time"
)

type Key string

// TierName identifica uma classe de rotas com orçamento próprio.
type TierName string

const (
	TierGlobal          TierName = "global"
	TierAPI             TierName = "api"
	TierAuth            TierName = "auth"
	TierAdmin           TierName = "admin"
	TierUpload          TierName = "upload"
	TierSearch          TierName = "search"
	TierPluginAPI       TierName = "plugin-api"
	TierPluginExecution TierName = "plugin-execution"
)

// KeyStrategy define contra qual identidade o tier conta requests.
type KeyStrategy string

const (
	// StrategyAddress usa o endereço do cliente (X-Forwarded-For ou RemoteAddr).
	StrategyAddress KeyStrategy = "address"
	// StrategyCredential prefere API key / Authorization e cai para o endereço.
	StrategyCredential KeyStrategy = "credential"
	// StrategyPlugin prefere o plugin ID declarado e cai para o endereço.
	StrategyPlugin KeyStrategy = "plugin"
)

// Tier é imutável depois de carregado.
type Tier struct {
	Name        TierName
	Window      time.Duration
	MaxRequests int
	Strategy    KeyStrategy
	Message     string
	// Code é o código estável devolvido quando o tier rejeita.
	Code string
}

func (t Tier) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	if t.Window <= 0 {
		return fmt.Errorf("tier %s: window must be > 0", t.Name)
	}
	if t.MaxRequests <= 0 {
		return fmt.Errorf("tier %s: max requests must be > 0", t.Name)
	}
	switch t.Strategy {
	case StrategyAddress, StrategyCredential, StrategyPlugin:
	default:
		return fmt.Errorf("tier %s: unknown key strategy %q", t.Name, t.Strategy)
	}
	return nil
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	Limit     int
	Remaining int
}
