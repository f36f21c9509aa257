package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedChanPool_SeparateCapacityPerKey(t *testing.T) {
	p := NewKeyedChanPool(1)

	releaseA, ok := p.Acquire(context.Background(), "a")
	require.True(t, ok)

	// outra chave não disputa a vaga de "a"
	releaseB, ok := p.Acquire(context.Background(), "b")
	require.True(t, ok)
	releaseB()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx, "a")
	assert.False(t, ok)

	releaseA()
	assert.Equal(t, 0, p.InFlight("a"))

	releaseA2, ok := p.Acquire(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, 1, p.InFlight("a"))
	releaseA2()
	releaseA2() // release idempotente
	assert.Equal(t, 0, p.InFlight("a"))
}
