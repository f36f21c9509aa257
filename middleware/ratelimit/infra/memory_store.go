package infra

import (
	"context"
	"sync"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é o CounterStore por instância: timestamps ordenados por
// chave para o sliding window e (count, windowStart) para janelas fixas.
//
// A poda acontece de forma lazy a cada acesso e periodicamente pelo janitor.
type MemoryCounterStore struct {
	mu      sync.Mutex
	sliding map[domain.Key]*slidingEntry
	fixed   map[domain.Key]*fixedEntry

	clock        domain.Clock
	cleanupEvery time.Duration
}

type slidingEntry struct {
	window time.Duration
	// hits em ordem crescente
	hits []time.Time
}

type fixedEntry struct {
	window      time.Duration
	count       int
	windowStart time.Time
}

type MemoryStoreOption func(*MemoryCounterStore)

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

// WithClock define o relógio usado pelo janitor.
func WithClock(c domain.Clock) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.clock = c }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		sliding:      make(map[domain.Key]*slidingEntry),
		fixed:        make(map[domain.Key]*fixedEntry),
		clock:        domain.SystemClock{},
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryCounterStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Take implementa domain.CounterStore.
func (s *MemoryCounterStore) Take(_ context.Context, key domain.Key, window time.Duration, max int, now time.Time) (domain.WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.sliding[key]
	if !ok {
		ent = &slidingEntry{window: window}
		s.sliding[key] = ent
	}
	ent.window = window
	ent.prune(now)

	if len(ent.hits) >= max {
		st := domain.WindowState{Allowed: false, Count: len(ent.hits)}
		if len(ent.hits) > 0 {
			st.Oldest = ent.hits[0]
		}
		return st, nil
	}

	ent.hits = append(ent.hits, now)
	return domain.WindowState{Allowed: true, Count: len(ent.hits), Oldest: ent.hits[0]}, nil
}

// Incr implementa domain.CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key domain.Key, window time.Duration, now time.Time) (domain.FixedCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.fixed[key]
	if !ok || !now.Before(ent.windowStart.Add(ent.window)) {
		ent = &fixedEntry{window: window, windowStart: now}
		s.fixed[key] = ent
	}
	ent.count++
	return domain.FixedCount{Count: ent.count, WindowStart: ent.windowStart}, nil
}

// prune descarta hits com t <= now-window. hits está ordenado, então basta
// achar o primeiro ainda válido.
func (e *slidingEntry) prune(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.hits) && !e.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.hits = append(e.hits[:0], e.hits[i:]...)
	}
}

// Cleanup remove chaves cujas janelas já expiraram por completo.
// Retorna quantas chaves foram removidas.
func (s *MemoryCounterStore) Cleanup() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.sliding {
		ent.prune(now)
		if len(ent.hits) == 0 {
			delete(s.sliding, k)
			removed++
		}
	}
	for k, ent := range s.fixed {
		if !now.Before(ent.windowStart.Add(ent.window)) {
			delete(s.fixed, k)
			removed++
		}
	}
	return removed
}

// Len retorna o número de chaves vivas (sliding + fixed).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sliding) + len(s.fixed)
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
