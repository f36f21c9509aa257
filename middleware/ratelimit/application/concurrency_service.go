package application

import (
	"context"
	"errors"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"
)

// ErrSlotTimeout indica que nenhuma vaga abriu dentro do AcquireTimeout.
var ErrSlotTimeout = errors.New("execution slot wait timed out")

// Slot é uma vaga adquirida. Release é idempotente.
type Slot struct {
	Release func()
	Waited  time.Duration
}

// ConcurrencyService limita execuções simultâneas por chave (plugin), sem
// saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire espera por uma vaga de key. AcquireTimeout <= 0 espera até ctx
// encerrar.
//
// Erros: ErrSlotTimeout quando o timeout próprio venceu; ctx.Err() quando o
// chamador desistiu antes (cliente desconectou), caso em que não há o que
// responder.
func (s ConcurrencyService) Acquire(ctx context.Context, key domain.Key) (Slot, error) {
	if s.Pool == nil {
		return Slot{Release: func() {}}, nil
	}

	start := time.Now()
	acqCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.AcquireTimeout > 0 {
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
	}
	defer cancel()

	release, ok := s.Pool.Acquire(acqCtx, key)
	if !ok {
		if err := ctx.Err(); err != nil {
			return Slot{}, err
		}
		return Slot{}, ErrSlotTimeout
	}
	return Slot{Release: release, Waited: time.Since(start)}, nil
}
