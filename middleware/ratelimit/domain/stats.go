package domain

import (
	"context"
	"time"
)

// RejectionEvent é o registro estruturado emitido a cada rejeição do limiter.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type RejectionEvent struct {
	Key  Key
	Tier TierName
	Code string

	Method string
	Path   string

	At time.Time
}

// RejectionRecorder é a estratégia de persistência das rejeições.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware trata erro como best-effort (não derruba o request).
type RejectionRecorder interface {
	Record(ctx context.Context, ev RejectionEvent) error
}
