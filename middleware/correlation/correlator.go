package correlation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RequestLog é um snapshot imutável. Finish nunca altera o pendente: troca a
// entrada inteira por uma nova, então leitores veem "pendente" ou "completo".
type RequestLog struct {
	ID        string              `json:"id"`
	ShortID   string              `json:"shortId"`
	StartedAt time.Time           `json:"startedAt"`
	EndedAt   time.Time           `json:"endedAt,omitzero"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     map[string][]string `json:"query,omitempty"`
	Headers   map[string]string   `json:"headers,omitempty"`
	Body      any                 `json:"body,omitempty"`

	Status          int               `json:"status,omitempty"`
	ResponseTimeMs  float64           `json:"responseTimeMs,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty"`
	Error           string            `json:"error,omitempty"`
	Completed       bool              `json:"completed"`
}

// Response é o que Finish registra sobre a resposta enviada.
type Response struct {
	Status  int
	Elapsed time.Duration
	Header  http.Header
	// Body pode ser só o começo do corpo.
	Body []byte
}

type Config struct {
	MaxEntries   int           `mapstructure:"max_entries" yaml:"max_entries"`
	Retention    time.Duration `mapstructure:"retention" yaml:"retention"`
	CleanupEvery time.Duration `mapstructure:"cleanup_every" yaml:"cleanup_every"`
	// CaptureBodyBytes limita quanto do corpo do request é lido para o log.
	CaptureBodyBytes int64 `mapstructure:"capture_body_bytes" yaml:"capture_body_bytes"`
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:       10000,
		Retention:        time.Hour,
		CleanupEvery:     time.Minute,
		CaptureBodyBytes: 64 << 10,
	}
}

// Correlator atribui IDs e mantém os logs recentes em um LRU limitado.
type Correlator struct {
	cfg   Config
	logs  *lru.Cache[string, *RequestLog]
	clock domain.Clock

	// mu serializa Finish e Prune para que uma entrada podada não volte.
	mu sync.Mutex

	onSize func(n int)
}

type Option func(*Correlator)

func WithClock(c domain.Clock) Option {
	return func(cr *Correlator) { cr.clock = c }
}

// WithSizeHook é chamado após mudanças no número de entradas (ex.: gauge).
func WithSizeHook(fn func(n int)) Option {
	return func(cr *Correlator) { cr.onSize = fn }
}

func New(cfg Config, opts ...Option) (*Correlator, error) {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CaptureBodyBytes <= 0 {
		cfg.CaptureBodyBytes = def.CaptureBodyBytes
	}

	cache, err := lru.New[string, *RequestLog](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("request log store: %w", err)
	}

	c := &Correlator{cfg: cfg, logs: cache, clock: domain.SystemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Begin cria a entrada pendente do request. O corpo capturado é devolvido a
// r.Body intacto.
func (c *Correlator) Begin(r *http.Request) RequestLog {
	id := uuid.NewString()
	entry := &RequestLog{
		ID:        id,
		ShortID:   strings.ReplaceAll(id, "-", "")[:8],
		StartedAt: c.clock.Now(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     RedactQuery(r.URL.Query()),
		Headers:   RedactHeaders(r.Header),
		Body:      c.captureBody(r),
	}
	c.logs.Add(id, entry)
	c.notifySize()
	return *entry
}

func (c *Correlator) captureBody(r *http.Request) any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, c.cfg.CaptureBodyBytes))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) == 0 {
		return nil
	}
	return snapshotBody(r.Header.Get("Content-Type"), buf)
}

func snapshotBody(contentType string, raw []byte) any {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json")) {
		var doc any
		if json.Unmarshal(raw, &doc) == nil {
			return RedactValue(doc)
		}
	}
	return truncate(string(raw), MaxSnapshotChars)
}

// Finish completa a entrada com status, tempo, headers e o snapshot da
// resposta, redigidos como os do request. Retorna false se a entrada já foi
// despejada.
func (c *Correlator) Finish(id string, res Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.logs.Peek(id)
	if !ok || pending.Completed {
		return false
	}

	done := *pending
	done.EndedAt = c.clock.Now()
	done.Status = res.Status
	done.ResponseTimeMs = float64(res.Elapsed.Microseconds()) / 1000
	if len(res.Header) > 0 {
		done.ResponseHeaders = RedactHeaders(res.Header)
	}
	done.ResponseBody = responseSnapshot(res.Body)
	done.Error = errorCode(res.Status, res.Body)
	done.Completed = true

	c.logs.Add(id, &done)
	return true
}

// responseSnapshot redige antes de truncar. Corpo que não decodifica como
// JSON (texto ou JSON cortado pela captura) passa por RedactText.
func responseSnapshot(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc any
	if json.Unmarshal(body, &doc) == nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if enc.Encode(RedactValue(doc)) == nil {
			return truncate(strings.TrimRight(buf.String(), "\n"), MaxSnapshotChars)
		}
	}
	return truncate(RedactText(string(body)), MaxSnapshotChars)
}

// errorCode extrai o "code" de respostas de erro em JSON.
func errorCode(status int, body []byte) string {
	if status < http.StatusBadRequest {
		return ""
	}
	var v struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &v) == nil && v.Code != "" {
		return v.Code
	}
	return http.StatusText(status)
}

// Get aceita o ID longo ou o curto.
func (c *Correlator) Get(id string) (RequestLog, bool) {
	if e, ok := c.logs.Peek(id); ok {
		return *e, true
	}
	if len(id) != 8 {
		return RequestLog{}, false
	}
	for _, e := range c.logs.Values() {
		if e.ShortID == id {
			return *e, true
		}
	}
	return RequestLog{}, false
}

type Filter struct {
	Method string
	Status int
	// Path filtra por substring.
	Path      string
	Since     time.Time
	Until     time.Time
	Completed *bool
	Limit     int
}

func (f Filter) match(e *RequestLog) bool {
	if f.Method != "" && !strings.EqualFold(f.Method, e.Method) {
		return false
	}
	if f.Status != 0 && f.Status != e.Status {
		return false
	}
	if f.Path != "" && !strings.Contains(e.Path, f.Path) {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.StartedAt.After(f.Until) {
		return false
	}
	if f.Completed != nil && *f.Completed != e.Completed {
		return false
	}
	return true
}

// List retorna as entradas que casam com f, mais recentes primeiro.
func (c *Correlator) List(f Filter) []RequestLog {
	out := make([]RequestLog, 0)
	for _, e := range c.logs.Values() {
		if f.match(e) {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

type Stats struct {
	Total             int            `json:"total"`
	Completed         int            `json:"completed"`
	Pending           int            `json:"pending"`
	ByStatus          map[int]int    `json:"byStatus"`
	ByMethod          map[string]int `json:"byMethod"`
	ByEndpoint        map[string]int `json:"byEndpoint"`
	AvgResponseTimeMs float64        `json:"avgResponseTimeMs"`
}

func (c *Correlator) Stats() Stats {
	s := Stats{
		ByStatus:   make(map[int]int),
		ByMethod:   make(map[string]int),
		ByEndpoint: make(map[string]int),
	}
	var totalMs float64
	for _, e := range c.logs.Values() {
		s.Total++
		s.ByMethod[e.Method]++
		s.ByEndpoint[e.Method+" "+e.Path]++
		if !e.Completed {
			s.Pending++
			continue
		}
		s.Completed++
		s.ByStatus[e.Status]++
		totalMs += e.ResponseTimeMs
	}
	if s.Completed > 0 {
		s.AvgResponseTimeMs = totalMs / float64(s.Completed)
	}
	return s
}

func (c *Correlator) Len() int { return c.logs.Len() }

// Prune remove entradas iniciadas antes de now-Retention, inclusive as que
// nunca completaram. Retorna quantas removeu.
func (c *Correlator) Prune(now time.Time) int {
	cutoff := now.Add(-c.cfg.Retention)

	c.mu.Lock()
	removed := 0
	for _, id := range c.logs.Keys() {
		e, ok := c.logs.Peek(id)
		if ok && e.StartedAt.Before(cutoff) {
			c.logs.Remove(id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.notifySize()
	}
	return removed
}

// StartJanitor poda periodicamente até ctx encerrar.
func (c *Correlator) StartJanitor(ctx context.Context) {
	if c.cfg.CleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.CleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Prune(c.clock.Now())
			}
		}
	}()
}

func (c *Correlator) notifySize() {
	if c.onSize != nil {
		c.onSize(c.logs.Len())
	}
}
