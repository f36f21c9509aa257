package infra

import (
	"context"
	"sync"

	"plugin-gateway/middleware/ratelimit/domain"
)

// KeyedChanPool mantém um semáforo (channel) de capacidade `max` por chave.
// Semáforos ociosos são descartados no release para não crescer sem limite.
type KeyedChanPool struct {
	max int

	mu   sync.Mutex
	sems map[domain.Key]*keyedSem
}

type keyedSem struct {
	sem   chan struct{}
	users int // acquires em andamento ou esperando
}

// NewKeyedChanPool cria o pool; max <= 0 vira 1.
func NewKeyedChanPool(max int) *KeyedChanPool {
	if max <= 0 {
		max = 1
	}
	return &KeyedChanPool{max: max, sems: make(map[domain.Key]*keyedSem)}
}

var _ domain.SlotPool = (*KeyedChanPool)(nil)

func (p *KeyedChanPool) Acquire(ctx context.Context, key domain.Key) (func(), bool) {
	p.mu.Lock()
	ks, ok := p.sems[key]
	if !ok {
		ks = &keyedSem{sem: make(chan struct{}, p.max)}
		p.sems[key] = ks
	}
	ks.users++
	p.mu.Unlock()

	select {
	case ks.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ks.sem
				p.done(key, ks)
			})
		}, true
	case <-ctx.Done():
		p.done(key, ks)
		return nil, false
	}
}

func (p *KeyedChanPool) done(key domain.Key, ks *keyedSem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks.users--
	if ks.users == 0 && p.sems[key] == ks {
		delete(p.sems, key)
	}
}

// InFlight retorna quantas vagas da chave estão ocupadas.
func (p *KeyedChanPool) InFlight(key domain.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ks, ok := p.sems[key]; ok {
		return len(ks.sem)
	}
	return 0
}
