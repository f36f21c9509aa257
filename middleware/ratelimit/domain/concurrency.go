package domain

import "context"

// SlotPool representa um recurso com capacidade finita por chave
// (ex: execuções simultâneas de um mesmo plugin).
//
// Acquire bloqueia até conseguir uma vaga para key ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context, key Key) (release func(), ok bool)
}
