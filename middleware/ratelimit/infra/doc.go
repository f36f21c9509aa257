// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore: sliding window / janela fixa por instância, com janitor
//   - RedisCounterStore: mesmo contrato via scripts Lua atômicos (go-redis)
//   - FailoverStore: Redis com degradação para contagem local
//   - KeyedChanPool: semáforo por chave para slots de execução
//   - Memory/RedisRejectionRecorder: registro das rejeições
package infra
