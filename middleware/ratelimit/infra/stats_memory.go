package infra

import (
	"context"
	"sync"

	"plugin-gateway/middleware/ratelimit/domain"
)

// MemoryRejectionRecorder é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryRejectionRecorder struct {
	mu      sync.Mutex
	total   int64
	byTier  map[domain.TierName]int64
	byRoute map[string]int64
	byKey   map[domain.Key]int64
	last    []domain.RejectionEvent

	trackKeys bool
	keepLast  int
}

type MemoryRecorderOption func(*MemoryRejectionRecorder)

func WithTrackKeys(track bool) MemoryRecorderOption {
	return func(s *MemoryRejectionRecorder) { s.trackKeys = track }
}

// WithKeepLast mantém os últimos n eventos para inspeção.
func WithKeepLast(n int) MemoryRecorderOption {
	return func(s *MemoryRejectionRecorder) { s.keepLast = n }
}

func NewMemoryRejectionRecorder(opts ...MemoryRecorderOption) *MemoryRejectionRecorder {
	s := &MemoryRejectionRecorder{
		byTier:   make(map[domain.TierName]int64),
		byRoute:  make(map[string]int64),
		byKey:    make(map[domain.Key]int64),
		keepLast: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryRejectionRecorder) Record(_ context.Context, ev domain.RejectionEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byTier[ev.Tier]++
	s.byRoute[route]++
	if s.trackKeys {
		s.byKey[ev.Key]++
	}
	if s.keepLast > 0 {
		s.last = append(s.last, ev)
		if len(s.last) > s.keepLast {
			s.last = s.last[len(s.last)-s.keepLast:]
		}
	}
	return nil
}

func (s *MemoryRejectionRecorder) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryRejectionRecorder) ByTier() map[domain.TierName]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.TierName]int64, len(s.byTier))
	for k, v := range s.byTier {
		out[k] = v
	}
	return out
}

func (s *MemoryRejectionRecorder) ByRoute() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryRejectionRecorder) ByKey() map[domain.Key]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Key]int64, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

// Last retorna uma cópia dos eventos retidos, do mais antigo ao mais novo.
func (s *MemoryRejectionRecorder) Last() []domain.RejectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RejectionEvent(nil), s.last...)
}
