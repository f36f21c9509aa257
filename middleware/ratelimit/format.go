// utilitário pequeno para formatação consistente de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatMillis formata d em milissegundos inteiros.
func formatMillis(d time.Duration) string { return strconv.FormatInt(d.Milliseconds(), 10) }
