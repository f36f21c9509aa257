// Package security valida metadados estruturais do request (origin, headers
// obrigatórios, identidade do plugin) e sanitiza query, path e corpo JSON
// contra a denylist de padrões perigosos.
//
// O RuleSet é compilado uma vez na inicialização e não muda depois disso.
package security
