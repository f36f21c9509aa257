package security

import (
	"net/url"
	"slices"
)

// Sanitize remove blocos <script>, tags HTML e todo trecho que casa com um
// padrão bloqueado.
//
// Remover um trecho pode formar outro (ex.: "<scr<b>ipt>"), então as passadas
// se repetem até o texto parar de mudar. Cada passada que muda o texto o
// encurta, logo o laço termina e Sanitize(Sanitize(x)) == Sanitize(x).
func (rs *RuleSet) Sanitize(s string) string {
	for {
		next := rs.sanitizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func (rs *RuleSet) sanitizeOnce(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, "")
	for _, re := range rs.blocked {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// SanitizeValue percorre mapas e arrays decodificados de JSON e sanitiza toda
// string, chaves de objeto inclusive, em qualquer profundidade.
func (rs *RuleSet) SanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return rs.Sanitize(t)
	case map[string]any:
		return rs.sanitizeMap(t, nil)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = rs.SanitizeValue(t[i])
		}
		return out
	}
	return v
}

// SanitizeDocument é SanitizeValue com uma exceção: com raw true, as chaves
// de RawFields no nível superior do objeto mantêm o valor original. Abaixo
// do topo tudo é sanitizado.
func (rs *RuleSet) SanitizeDocument(doc any, raw bool) any {
	m, ok := doc.(map[string]any)
	if !raw || !ok {
		return rs.SanitizeValue(doc)
	}
	return rs.sanitizeMap(m, rs.RawField)
}

// sanitizeMap devolve um mapa novo com chaves e valores limpos. Quando duas
// chaves colidem depois da limpeza vale a que já era limpa; entre chaves
// alteradas, a primeira em ordem lexicográfica.
func (rs *RuleSet) sanitizeMap(m map[string]any, keep func(string) bool) map[string]any {
	out := make(map[string]any, len(m))
	var dirty []string
	for k, val := range m {
		switch {
		case keep != nil && keep(k):
			out[k] = val
		case rs.Sanitize(k) != k:
			dirty = append(dirty, k)
		default:
			out[k] = rs.SanitizeValue(val)
		}
	}
	slices.Sort(dirty)
	for _, k := range dirty {
		nk := rs.Sanitize(k)
		if _, taken := out[nk]; taken {
			continue
		}
		out[nk] = rs.SanitizeValue(m[k])
	}
	return out
}

// sanitizeValues limpa chaves e valores de query strings e formulários.
// Valores de chaves que colidem depois da limpeza são concatenados, na mesma
// ordem de sanitizeMap. changed é false quando nada mudou.
func (rs *RuleSet) sanitizeValues(in url.Values, keep func(string) bool) (out url.Values, changed bool) {
	out = make(url.Values, len(in))
	var dirty []string
	for k, vals := range in {
		if keep != nil && keep(k) {
			out[k] = vals
			continue
		}
		if rs.Sanitize(k) != k {
			dirty = append(dirty, k)
			continue
		}
		clean, ch := rs.sanitizeStrings(vals)
		out[k] = clean
		changed = changed || ch
	}
	slices.Sort(dirty)
	for _, k := range dirty {
		nk := rs.Sanitize(k)
		clean, _ := rs.sanitizeStrings(in[k])
		out[nk] = append(out[nk], clean...)
	}
	return out, changed || len(dirty) > 0
}

func (rs *RuleSet) sanitizeStrings(vals []string) ([]string, bool) {
	out := make([]string, len(vals))
	changed := false
	for i, v := range vals {
		out[i] = rs.Sanitize(v)
		changed = changed || out[i] != v
	}
	return out, changed
}

// sanitizeSegment também descarta segmentos "." e "..".
func (rs *RuleSet) sanitizeSegment(seg string) string {
	seg = rs.Sanitize(seg)
	if seg == "." || seg == ".." {
		return ""
	}
	return seg
}
