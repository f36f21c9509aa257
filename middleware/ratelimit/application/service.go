package application

import (
	"context"

	"plugin-gateway/middleware/ratelimit/domain"
)

// Limiter concentra a regra de aplicação do sliding window por tier.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Limiter struct {
	Store domain.CounterStore
	Clock domain.Clock
}

// StoreKey namespaceia a chave do cliente por tier, para que cada tier tenha
// seu próprio bucket mesmo com a mesma identidade.
func StoreKey(tier domain.TierName, key domain.Key) domain.Key {
	return domain.Key("rl:" + string(tier) + ":" + string(key))
}

// Check registra o hit de key no tier e decide.
//
// Se o store falhar, a decisão é Allowed=true junto com o erro: o chamador
// loga, mas o request segue (fail-open). Com infra.FailoverStore o erro nunca
// chega aqui.
func (s Limiter) Check(ctx context.Context, tier domain.Tier, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{Allowed: true, Limit: tier.MaxRequests, Remaining: tier.MaxRequests}, nil
	}
	clock := s.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	now := clock.Now()

	st, err := s.Store.Take(ctx, StoreKey(tier.Name, key), tier.Window, tier.MaxRequests, now)
	if err != nil {
		return domain.Decision{Allowed: true, Limit: tier.MaxRequests}, err
	}

	dec := domain.Decision{
		Allowed:   st.Allowed,
		Limit:     tier.MaxRequests,
		Remaining: tier.MaxRequests - st.Count,
	}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if st.Allowed {
		return dec, nil
	}

	dec.RetryAfter = tier.Window - now.Sub(st.Oldest)
	if st.Oldest.IsZero() || dec.RetryAfter <= 0 || dec.RetryAfter > tier.Window {
		dec.RetryAfter = tier.Window
	}
	return dec, nil
}

// Minimum é um helper para escolher o menor Remaining entre tiers avaliados.
func Minimum(a, b domain.Decision) domain.Decision {
	if a.Limit == 0 || b.Remaining < a.Remaining {
		return b
	}
	return a
}
