// Package domain define contratos e tipos de domínio para rate limit, slow-down
// e slots de execução.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Tiers, CounterStore e RejectionRecorder são os contratos que permitem trocar
// o backend local por um distribuído sem tocar nos chamadores.
package domain
