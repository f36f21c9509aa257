// Package ratelimit fornece adapters HTTP (net/http) para rate limit por tier,
// slow-down progressivo e slots de execução por plugin.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão do sliding window, atraso, acquire/timeout)
//   - infra: implementações concretas (memória, Redis, failover, semáforos por chave)
//   - ratelimit (este pacote): middlewares HTTP + resolução de tiers e chaves +
//     tradução para status/headers
//
// Fluxo no gateway:
//
//  1. SpeedMiddleware conta o endereço e atrasa quando passa de DelayAfter
//  2. Middleware resolve os tiers do path (global + rotas) e a chave de cada um
//  3. A primeira rejeição responde 429 com Retry-After e corpo JSON
//  4. ConcurrencyMiddleware limita execuções simultâneas por plugin (503)
//
// A configuração vem do binário gateway (cmd/gateway), via arquivo YAML ou
// variáveis GATEWAY_*.
package ratelimit
