package correlation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const Redacted = "[REDACTED]"

// MaxSnapshotChars limita textos guardados no log (corpos de request/response).
const MaxSnapshotChars = 1000

var sensitiveKeys = []string{
	"authorization",
	"cookie",
	"api-key",
	"api_key",
	"apikey",
	"password",
	"token",
	"secret",
}

// Sensitive reporta se o nome de campo/header deve ser redigido.
func Sensitive(name string) bool {
	n := strings.ToLower(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// RedactHeaders achata os headers (valores unidos por ", ") trocando os
// sensíveis pelo marcador. O campo continua presente.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if Sensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = truncate(strings.Join(vals, ", "), MaxSnapshotChars)
	}
	return out
}

func RedactQuery(q url.Values) map[string][]string {
	out := make(map[string][]string, len(q))
	for k, vals := range q {
		if Sensitive(k) {
			red := make([]string, len(vals))
			for i := range red {
				red[i] = Redacted
			}
			out[k] = red
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// RedactValue percorre um documento JSON decodificado e redige os campos
// sensíveis em qualquer profundidade, preservando a forma.
func RedactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if Sensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = RedactValue(t[i])
		}
		return out
	case string:
		return truncate(t, MaxSnapshotChars)
	}
	return v
}

// jsonMember casa um par "chave": valor escalar, com string possivelmente
// sem fechamento no fim do texto.
var jsonMember = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"(\s*:\s*)("(?:[^"\\]|\\.)*"?|[^,{}\[\]"\s]+)`)

// RedactText troca o valor de pares "chave": valor sensíveis em textos que
// não decodificam como JSON.
func RedactText(s string) string {
	return jsonMember.ReplaceAllStringFunc(s, func(m string) string {
		sub := jsonMember.FindStringSubmatch(m)
		if !Sensitive(sub[1]) {
			return m
		}
		return `"` + sub[1] + `"` + sub[2] + `"` + Redacted + `"`
	})
}

// truncate corta s em max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	i := 0
	for n := 0; n < max; n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
