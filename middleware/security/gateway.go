package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"plugin-gateway/middleware/verdict"
)

const (
	HeaderPluginID      = "X-Plugin-ID"
	HeaderPluginVersion = "X-Plugin-Version"
)

// Códigos estáveis de rejeição.
const (
	CodeOriginNotAllowed      = "ORIGIN_NOT_ALLOWED"
	CodeMissingRequiredHeader = "MISSING_REQUIRED_HEADER"
	CodePluginIDRequired      = "PLUGIN_ID_REQUIRED"
	CodePluginVersionRequired = "PLUGIN_VERSION_REQUIRED"
	CodeInvalidPluginID       = "INVALID_PLUGIN_ID"
	CodePluginIDMismatch      = "PLUGIN_ID_MISMATCH"
	CodeRequestTooLarge       = "REQUEST_TOO_LARGE"
	CodeInvalidJSON           = "INVALID_JSON"
	CodeInvalidForm           = "INVALID_FORM"
)

// Gateway aplica as checagens estruturais e a sanitização do RuleSet.
type Gateway struct {
	rules *RuleSet
}

func NewGateway(rules *RuleSet) *Gateway { return &Gateway{rules: rules} }

func (g *Gateway) Rules() *RuleSet { return g.rules }

// Validate executa, em ordem: origin, headers obrigatórios, headers de plugin.
func (g *Gateway) Validate(r *http.Request) verdict.Verdict {
	return verdict.Run(r, g.CheckOrigin, g.CheckRequiredHeaders, g.CheckPluginHeaders)
}

func (g *Gateway) CheckOrigin(r *http.Request) verdict.Verdict {
	origin := r.Header.Get("Origin")
	if origin == "" || g.rules.OriginAllowed(origin) {
		return verdict.Pass()
	}
	return verdict.Forbidden(CodeOriginNotAllowed, "Origin "+strconv.Quote(origin)+" is not allowed")
}

func (g *Gateway) CheckRequiredHeaders(r *http.Request) verdict.Verdict {
	for _, h := range g.rules.required {
		if strings.TrimSpace(r.Header.Get(h)) == "" {
			return verdict.Invalid(CodeMissingRequiredHeader, "Missing required header "+h)
		}
	}
	return verdict.Pass()
}

func (g *Gateway) CheckPluginHeaders(r *http.Request) verdict.Verdict {
	pathID, ok := g.rules.PluginRoute(r.URL.Path)
	if !ok {
		return verdict.Pass()
	}

	id := strings.TrimSpace(r.Header.Get(HeaderPluginID))
	if id == "" {
		return verdict.Invalid(CodePluginIDRequired, "Plugin ID header is required")
	}
	if strings.TrimSpace(r.Header.Get(HeaderPluginVersion)) == "" {
		return verdict.Invalid(CodePluginVersionRequired, "Plugin version header is required")
	}
	if !g.rules.ValidPluginID(id) {
		return verdict.Invalid(CodeInvalidPluginID, "Plugin ID must contain only lowercase letters, digits and hyphens")
	}
	if pathID != "" && pathID != id {
		return verdict.Invalid(CodePluginIDMismatch, "Plugin ID header does not match the route")
	}
	return verdict.Pass()
}

// SanitizeRequest reescreve query, path e corpo (JSON ou formulário) de r no
// lugar. Rejeita corpos maiores que MaxBodyBytes e corpos malformados.
func (g *Gateway) SanitizeRequest(r *http.Request) verdict.Verdict {
	g.sanitizeQuery(r)
	g.sanitizePath(r)
	return g.sanitizeBody(r)
}

func (g *Gateway) sanitizeQuery(r *http.Request) {
	if r.URL.RawQuery == "" {
		return
	}
	if q, changed := g.rules.sanitizeValues(r.URL.Query(), nil); changed {
		r.URL.RawQuery = q.Encode()
	}
}

func (g *Gateway) sanitizePath(r *http.Request) {
	segs := strings.Split(r.URL.Path, "/")
	changed := false
	for i, seg := range segs {
		if s := g.rules.sanitizeSegment(seg); s != seg {
			segs[i] = s
			changed = true
		}
	}
	if changed {
		r.URL.Path = strings.Join(segs, "/")
		r.URL.RawPath = ""
	}
}

var errTooLarge = errors.New("body too large")

func (g *Gateway) sanitizeBody(r *http.Request) verdict.Verdict {
	if r.Body == nil || r.Body == http.NoBody {
		return verdict.Pass()
	}
	max := g.rules.MaxBodyBytes()
	if r.ContentLength > max {
		return tooLarge(max)
	}

	raw, err := readLimited(r.Body, max)
	_ = r.Body.Close()
	if errors.Is(err, errTooLarge) {
		return tooLarge(max)
	}
	if err != nil {
		return verdict.Invalid(CodeInvalidJSON, "Request body could not be read")
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		restoreBody(r, raw)
		return verdict.Pass()
	}

	var keep func(string) bool
	if g.rules.RawFieldsAllowed(r) {
		keep = g.rules.RawField
	}

	switch mediaType(r.Header.Get("Content-Type")) {
	case formMedia:
		return g.sanitizeForm(r, raw, keep)
	case jsonMedia:
		return g.sanitizeJSON(r, raw, keep)
	}
	restoreBody(r, raw)
	return verdict.Pass()
}

func (g *Gateway) sanitizeJSON(r *http.Request, raw []byte, keep func(string) bool) verdict.Verdict {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return verdict.Invalid(CodeInvalidJSON, "Request body is not valid JSON")
	}
	if dec.More() {
		return verdict.Invalid(CodeInvalidJSON, "Request body has trailing data")
	}

	doc = g.rules.SanitizeDocument(doc, keep != nil)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return verdict.Invalid(CodeInvalidJSON, "Request body could not be re-encoded")
	}
	restoreBody(r, bytes.TrimRight(buf.Bytes(), "\n"))
	return verdict.Pass()
}

func (g *Gateway) sanitizeForm(r *http.Request, raw []byte, keep func(string) bool) verdict.Verdict {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return verdict.Invalid(CodeInvalidForm, "Request body is not a valid form")
	}
	if clean, changed := g.rules.sanitizeValues(form, keep); changed {
		raw = []byte(clean.Encode())
	}
	restoreBody(r, raw)
	return verdict.Pass()
}

func tooLarge(max int64) verdict.Verdict {
	return verdict.Invalid(CodeRequestTooLarge, "Request body exceeds "+strconv.FormatInt(max, 10)+" bytes")
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errTooLarge
	}
	return b, nil
}

func restoreBody(r *http.Request, b []byte) {
	r.Body = io.NopCloser(bytes.NewReader(b))
	r.ContentLength = int64(len(b))
	r.Header.Set("Content-Length", strconv.Itoa(len(b)))
	r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil }
}

const (
	jsonMedia = "application/json"
	formMedia = "application/x-www-form-urlencoded"
)

// mediaType normaliza o Content-Type; tipos "+json" contam como JSON.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(mt, "+json") {
		return jsonMedia
	}
	return mt
}
