package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	secondDone := make(chan struct{})
	var startedOnce sync.Once

	// handler que segura a vaga até liberarmos.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 25 * time.Millisecond,
	})(next)

	newReq := func(plugin string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "http://example/api/plugins/"+plugin+"/execute", nil)
		r.Header.Set(HeaderPluginID, plugin)
		return r
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// request 1: ocupa a vaga do plugin e fica pendurado
	go func() {
		defer wg.Done()
		w1 := httptest.NewRecorder()
		h.ServeHTTP(w1, newReq("weather"))
		if w1.Code != http.StatusOK {
			t.Errorf("expected first request 200, got %d", w1.Code)
		}
	}()

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting first request to start")
	}

	// request 2 (mesmo plugin): deve falhar por timeout ao tentar adquirir
	go func() {
		w2 := httptest.NewRecorder()
		h.ServeHTTP(w2, newReq("weather"))
		if w2.Code != http.StatusServiceUnavailable {
			t.Errorf("expected second request 503, got %d", w2.Code)
		}
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(500 * time.Millisecond):
		close(release)
		wg.Wait()
		t.Fatalf("timeout waiting second request to finish")
	}

	close(release)
	wg.Wait()
}

func TestConcurrencyMiddleware_OtherPluginsAndRoutesUnaffected(t *testing.T) {
	hold := make(chan struct{})
	entered := make(chan struct{}, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Header.Get(HeaderPluginID) == "busy" {
			entered <- struct{}{}
			<-hold
		}
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 10 * time.Millisecond,
		Applies:        func(r *http.Request) bool { return r.Method == http.MethodPost },
	})(next)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := httptest.NewRequest(http.MethodPost, "http://example/", nil)
		r.Header.Set(HeaderPluginID, "busy")
		h.ServeHTTP(httptest.NewRecorder(), r)
	}()
	<-entered

	other := httptest.NewRequest(http.MethodPost, "http://example/", nil)
	other.Header.Set(HeaderPluginID, "idle")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Errorf("expected other plugin 200, got %d", w.Code)
	}

	// rota fora do filtro não disputa vaga
	get := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	get.Header.Set(HeaderPluginID, "busy")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, get)
	if w.Code != http.StatusOK {
		t.Errorf("expected unfiltered route 200, got %d", w.Code)
	}

	close(hold)
	<-done
}

func TestConcurrencyMiddleware_AbandonedWaitWritesNothing(t *testing.T) {
	hold := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			<-hold
		}
		w.WriteHeader(http.StatusOK)
	})
	h := ConcurrencyMiddleware(ConcurrencyOptions{Max: 1, AcquireTimeout: time.Minute})(next)

	newReq := func(ctx context.Context) *http.Request {
		r := httptest.NewRequestWithContext(ctx, http.MethodPost, "http://example/api/plugins/weather/execute", nil)
		r.Header.Set(HeaderPluginID, "weather")
		return r
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), newReq(context.Background()))
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newReq(ctx))

	assert.False(t, w.Flushed)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())

	close(hold)
	<-done
}
