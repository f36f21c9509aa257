package security

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(DefaultRuleConfig())
	require.NoError(t, err)
	return rs
}

func TestSanitize_StripsDangerousInput(t *testing.T) {
	rs := defaultRules(t)

	cases := map[string]string{
		`hello <script>alert(1)</script>world`: "hello world",
		`../../etc/passwd`:                     "etc/passwd",
		`javascript:alert(1)`:                  "alert(1)",
		`<b>bold</b>`:                          "bold",
		`<img src=x onerror=alert(1)>`:         "",
		`data:text/html;base64,xx`:             ";base64,xx",
		`plain text stays`:                     "plain text stays",
		`x = eval("1+1")`:                      `x = "1+1")`,
	}
	for in, want := range cases {
		assert.Equal(t, want, rs.Sanitize(in), in)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	rs := defaultRules(t)

	inputs := []string{
		`<script>alert(1)</script>`,
		`../../etc/passwd`,
		`javascript:alert(1)`,
		`<scr<script>x</script>ipt>alert(1)</script>`,
		`....//....//etc/passwd`,
		`javajavascript:script:alert(1)`,
		`<<b>script>alert(1)<</b>/script>`,
		`onclick=on` + `mouseover==x`,
		`evaleval(( 1 )`,
		`already clean`,
		``,
	}
	for _, in := range inputs {
		once := rs.Sanitize(in)
		assert.Equal(t, once, rs.Sanitize(once), in)
		assert.False(t, rs.Blocked(once), "output still blocked: %q", once)
	}
}

func TestSanitizeValue_Recurses(t *testing.T) {
	rs := defaultRules(t)
	doc := map[string]any{
		"name": "<b>x</b>",
		"code": "eval(x)",
		"nested": map[string]any{
			"list": []any{"../a", 1.5, true, map[string]any{"k": "javascript:y"}},
		},
	}

	out := rs.SanitizeValue(doc).(map[string]any)
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, "x)", out["code"], "SanitizeValue has no raw exemption")
	list := out["nested"].(map[string]any)["list"].([]any)
	assert.Equal(t, "a", list[0])
	assert.Equal(t, 1.5, list[1])
	assert.Equal(t, true, list[2])
	assert.Equal(t, "y", list[3].(map[string]any)["k"])
}

func TestSanitizeDocument_RawFieldsOnlyAtTopLevel(t *testing.T) {
	rs := defaultRules(t)
	doc := func() map[string]any {
		return map[string]any{
			"code":    "eval(x)",
			"profile": map[string]any{"code": "<script>alert(1)</script>../../etc/passwd"},
			"steps":   []any{map[string]any{"code": "eval(y)"}},
		}
	}

	kept := rs.SanitizeDocument(doc(), true).(map[string]any)
	assert.Equal(t, "eval(x)", kept["code"])
	assert.Equal(t, "etc/passwd", kept["profile"].(map[string]any)["code"])
	assert.Equal(t, "y)", kept["steps"].([]any)[0].(map[string]any)["code"])

	all := rs.SanitizeDocument(doc(), false).(map[string]any)
	assert.Equal(t, "x)", all["code"])
	assert.Equal(t, "etc/passwd", all["profile"].(map[string]any)["code"])

	// documento que não é objeto não tem topo para preservar
	assert.Equal(t, []any{"x)"}, rs.SanitizeDocument([]any{"eval(x)"}, true))
}

func TestSanitizeValue_Keys(t *testing.T) {
	rs := defaultRules(t)
	doc := map[string]any{
		"<b>name</b>":               "a",
		"name":                      "b",
		"javascript:x":              "c",
		"../../nested":              map[string]any{"<i>k</i>": "<b>v</b>"},
		"<script>alert(1)</script>": "gone",
	}

	out := rs.SanitizeValue(doc).(map[string]any)
	assert.Equal(t, map[string]any{
		"name":   "b",
		"x":      "c",
		"nested": map[string]any{"k": "v"},
		"":       "gone",
	}, out)

	assert.Equal(t, out, rs.SanitizeValue(out))
}

func TestSanitizeValues_KeysAndIdempotence(t *testing.T) {
	rs := defaultRules(t)
	in := url.Values{
		"q":                   {"../../etc/passwd"},
		"<b>q</b>":            {"<i>more</i>"},
		"onclick=x":           {"1"},
		"javascript:redirect": {"javascript:alert(1)"},
		"clean":               {"ok"},
	}

	out, changed := rs.sanitizeValues(in, nil)
	require.True(t, changed)
	assert.Equal(t, url.Values{
		"q":        {"etc/passwd", "more"},
		"x":        {"1"},
		"redirect": {"alert(1)"},
		"clean":    {"ok"},
	}, out)

	again, changed := rs.sanitizeValues(out, nil)
	assert.False(t, changed)
	assert.Equal(t, out, again)

	_, changed = rs.sanitizeValues(url.Values{"clean": {"ok"}}, nil)
	assert.False(t, changed)
}

func TestNewRuleSet_RejectsBadPatterns(t *testing.T) {
	_, err := NewRuleSet(RuleConfig{BlockedPatterns: []string{"(["}})
	assert.Error(t, err)

	_, err = NewRuleSet(RuleConfig{BlockedPatterns: []string{"a*"}})
	assert.Error(t, err, "pattern matching the empty string never shrinks the input")
}

func TestRuleSet_Origins(t *testing.T) {
	rs, err := NewRuleSet(RuleConfig{AllowedOrigins: []string{"https://app.example.com/"}})
	require.NoError(t, err)

	assert.True(t, rs.OriginAllowed("https://APP.example.com"))
	assert.False(t, rs.OriginAllowed("https://evil.example.com"))

	none, err := NewRuleSet(RuleConfig{})
	require.NoError(t, err)
	assert.False(t, none.OriginAllowed("https://app.example.com"))
}
