package application

import (
	"context"
	"testing"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingPool nunca libera vaga; só retorna quando ctx encerra.
type blockingPool struct{}

func (blockingPool) Acquire(ctx context.Context, _ domain.Key) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

type recordingPool struct {
	keys []domain.Key
}

func (p *recordingPool) Acquire(_ context.Context, key domain.Key) (func(), bool) {
	p.keys = append(p.keys, key)
	return func() {}, true
}

func TestConcurrencyService_AllowsWhenNoPool(t *testing.T) {
	slot, err := ConcurrencyService{}.Acquire(context.Background(), "p")
	require.NoError(t, err)
	slot.Release()
}

func TestConcurrencyService_TimesOut(t *testing.T) {
	svc := ConcurrencyService{Pool: blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	start := time.Now()
	_, err := svc.Acquire(context.Background(), "p")
	assert.ErrorIs(t, err, ErrSlotTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConcurrencyService_CallerCancelled(t *testing.T) {
	svc := ConcurrencyService{Pool: blockingPool{}, AcquireTimeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := svc.Acquire(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSlotTimeout)
}

func TestConcurrencyService_PassesKeyToPool(t *testing.T) {
	pool := &recordingPool{}
	svc := ConcurrencyService{Pool: pool}

	slot, err := svc.Acquire(context.Background(), "weather-widget")
	require.NoError(t, err)
	assert.Equal(t, []domain.Key{"weather-widget"}, pool.keys)
	assert.GreaterOrEqual(t, slot.Waited, time.Duration(0))
}
