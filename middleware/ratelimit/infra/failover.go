package infra

import (
	"context"
	"sync/atomic"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// FailoverStore usa Primary (compartilhado) e, se ele falhar, atende pelo
// Fallback (local). Troca precisão global por disponibilidade: o request
// nunca é rejeitado nem quebra por causa do Redis.
type FailoverStore struct {
	primary  domain.CounterStore
	fallback domain.CounterStore
	logger   zerolog.Logger

	degraded atomic.Bool
	warn     rate.Sometimes
	// onChange é chamado a cada transição (ex.: gauge Prometheus).
	onChange func(degraded bool)
}

type FailoverOption func(*FailoverStore)

func WithFailoverLogger(l zerolog.Logger) FailoverOption {
	return func(s *FailoverStore) { s.logger = l }
}

// WithWarnInterval limita a frequência do warning repetido em modo degradado.
func WithWarnInterval(d time.Duration) FailoverOption {
	return func(s *FailoverStore) { s.warn = rate.Sometimes{First: 1, Interval: d} }
}

func WithDegradedHook(fn func(degraded bool)) FailoverOption {
	return func(s *FailoverStore) { s.onChange = fn }
}

func NewFailoverStore(primary, fallback domain.CounterStore, opts ...FailoverOption) *FailoverStore {
	s := &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   zerolog.Nop(),
		warn:     rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FailoverStore) Degraded() bool { return s.degraded.Load() }

// Take implementa domain.CounterStore.
func (s *FailoverStore) Take(ctx context.Context, key domain.Key, window time.Duration, max int, now time.Time) (domain.WindowState, error) {
	st, err := s.primary.Take(ctx, key, window, max, now)
	if err == nil {
		s.recovered()
		return st, nil
	}
	s.failed(err)
	return s.fallback.Take(ctx, key, window, max, now)
}

// Incr implementa domain.CounterStore.
func (s *FailoverStore) Incr(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.FixedCount, error) {
	c, err := s.primary.Incr(ctx, key, window, now)
	if err == nil {
		s.recovered()
		return c, nil
	}
	s.failed(err)
	return s.fallback.Incr(ctx, key, window, now)
}

func (s *FailoverStore) failed(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn().Err(err).Msg("shared counter store unavailable, degrading to local accounting")
		if s.onChange != nil {
			s.onChange(true)
		}
		return
	}
	s.warn.Do(func() {
		s.logger.Warn().Err(err).Msg("shared counter store still unavailable, using local accounting")
	})
}

func (s *FailoverStore) recovered() {
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info().Msg("shared counter store recovered")
		if s.onChange != nil {
			s.onChange(false)
		}
	}
}
