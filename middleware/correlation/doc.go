// Package correlation atribui um ID de correlação a cada request, mede o
// tempo de resposta e mantém um log recente, redigido e limitado, com
// consulta e estatísticas agregadas.
//
// Os logs ficam em um LRU de tamanho fixo e são despejados por idade pelo
// janitor. Não há persistência de longo prazo.
package correlation
