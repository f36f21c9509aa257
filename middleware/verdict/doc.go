// Package verdict define o resultado tipado (Pass | Reject) das checagens de
// admissão e a tradução de uma rejeição para HTTP.
//
// Cada camada (security, ratelimit, quota) devolve um Verdict em vez de
// escrever direto no ResponseWriter; o adapter HTTP chama Write uma única vez.
package verdict
