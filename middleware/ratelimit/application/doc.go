// Package application contém os casos de uso do rate limit: sliding window por
// tier, cálculo de atraso do slow-down e aquisição de slots de execução.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Limiter.Check(ctx, tier, key) retorna uma Decision (allow/deny + retry-after).
package application
