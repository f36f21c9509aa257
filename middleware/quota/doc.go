// Package quota aplica as quotas de recursos de cada plugin (memória, chamadas
// de rede) lidas do sandbox registry e valida submissões de código contra
// tamanho, padrões bloqueados e as permissões declaradas do sandbox.
package quota
