package domain

import (
	"context"
	"time"
)

// WindowState é a visão de uma chave após um Take.
//
// Count inclui o hit atual quando Allowed=true. Oldest é o timestamp mais
// antigo ainda dentro da janela (zero se a janela estiver vazia).
type WindowState struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// FixedCount é o contador de janela fixa após um Incr.
type FixedCount struct {
	Count       int
	WindowStart time.Time
}

// CounterStore é o primitivo atômico de contagem com expiração.
//
// Cada operação precisa ser atômica para a chave: duas chamadas concorrentes
// nunca podem ambas observar "há espaço" e ambas serem admitidas além de max.
// A implementação pode ser local (por instância) ou compartilhada (Redis).
type CounterStore interface {
	// Take descarta timestamps com t <= now-window; se restarem >= max, nega;
	// senão registra now e admite.
	Take(ctx context.Context, key Key, window time.Duration, max int, now time.Time) (WindowState, error)

	// Incr incrementa um contador de janela fixa e retorna o valor pós-incremento.
	Incr(ctx context.Context, key Key, window time.Duration, now time.Time) (FixedCount, error)
}

// Clock permite injetar tempo nos serviços (testes usam relógio fake).
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
