package kie

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKie scripts createTask and recordInfo responses.
type fakeKie struct {
	mu         sync.Mutex
	created    []map[string]any
	authHeader string
	createBody string
	createCode int
	states     []string
	resultJSON string
	failMsg    string
	polls      atomic.Int32
}

func (f *fakeKie) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/createTask", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))

		f.mu.Lock()
		f.created = append(f.created, payload)
		f.authHeader = r.Header.Get("Authorization")
		code, out := f.createCode, f.createBody
		f.mu.Unlock()

		if code != 0 {
			w.WriteHeader(code)
		}
		if out == "" {
			out = `{"code":200,"msg":"success","data":{"taskId":"task-1"}}`
		}
		io.WriteString(w, out)
	})
	mux.HandleFunc("/jobs/recordInfo", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))

		f.mu.Lock()
		state := "generating"
		if len(f.states) > 0 {
			state = f.states[min(n, len(f.states)-1)]
		}
		result, failMsg := f.resultJSON, f.failMsg
		f.mu.Unlock()

		data := map[string]any{"taskId": "task-1", "model": "m", "state": state}
		if result != "" {
			data["resultJson"] = result
		}
		if failMsg != "" {
			data["failMsg"] = failMsg
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "msg": "success", "data": data})
	})
	return mux
}

func (f *fakeKie) payloads() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.created...)
}

func (f *fakeKie) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authHeader
}

func newTestClient(t *testing.T, f *fakeKie) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
}

func TestSubmitSendsBearerAndReturnsTaskID(t *testing.T) {
	f := &fakeKie{}
	c := newTestClient(t, f)

	id, err := c.Submit(context.Background(), "  secret ", map[string]any{"model": "x"})
	require.NoError(t, err)

	assert.Equal(t, "task-1", id)
	assert.Equal(t, "Bearer secret", f.auth())
}

func TestSubmitMissingKeySkipsNetwork(t *testing.T) {
	f := &fakeKie{}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), " ", nil)

	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, f.payloads())
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want string
	}{
		{name: "http status", code: http.StatusUnauthorized, body: "invalid key", want: "invalid key"},
		{name: "envelope code", body: `{"code":402,"msg":"insufficient credits"}`, want: "insufficient credits"},
		{name: "missing task id", body: `{"code":200,"msg":"ok","data":{}}`, want: "ok"},
		{name: "malformed", body: `not json`, want: "decode response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &fakeKie{createCode: tc.code, createBody: tc.body})

			_, err := c.Submit(context.Background(), "k", map[string]any{})

			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSubmitBreakerOpensOnUpstreamFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), TripAfter: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.Submit(context.Background(), "key", map[string]any{})
		var se *SubmissionError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	}

	_, err := c.Submit(context.Background(), "key", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "provider unavailable")
	assert.EqualValues(t, 2, hits.Load())
}

func TestSubmitBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), TripAfter: 1})

	for i := 0; i < 3; i++ {
		_, err := c.Submit(context.Background(), "key", map[string]any{})
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestPollReturnsRecordOnSuccess(t *testing.T) {
	f := &fakeKie{
		states:     []string{"waiting", "generating", "SUCCESS"},
		resultJSON: `{"resultUrls":["https://cdn.test/a.png","https://cdn.test/b.png"]}`,
	}
	c := newTestClient(t, f)

	var ticks []string
	rec, err := c.Poll(context.Background(), "k", "task-1", PollOptions{
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
		OnTick:   func(s string) { ticks = append(ticks, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn.test/a.png", "https://cdn.test/b.png"}, rec.ResultURLs())
	assert.Equal(t, []string{"waiting", "generating", "SUCCESS"}, ticks)
	assert.EqualValues(t, 3, f.polls.Load())
}

func TestPollTaskFailedCarriesProviderMessage(t *testing.T) {
	c := newTestClient(t, &fakeKie{states: []string{"fail"}, failMsg: "content policy violation"})

	_, err := c.Poll(context.Background(), "k", "task-1", PollOptions{Interval: time.Millisecond})

	var failed *TaskFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "content policy violation", err.Error())
}

func TestPollTimeoutIsBoundedByOneInterval(t *testing.T) {
	f := &fakeKie{}
	c := newTestClient(t, f)

	const (
		interval = 40 * time.Millisecond
		timeout  = 150 * time.Millisecond
	)
	start := time.Now()
	_, err := c.Poll(context.Background(), "k", "task-1", PollOptions{Interval: interval, Timeout: timeout})
	elapsed := time.Since(start)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+100*time.Millisecond)
	assert.GreaterOrEqual(t, f.polls.Load(), int32(4))
}

func TestPollWithoutTimeoutStopsOnContext(t *testing.T) {
	c := newTestClient(t, &fakeKie{})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := c.Poll(ctx, "k", "task-1", PollOptions{Interval: 10 * time.Millisecond})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "bad-status") {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"code":500,"msg":"record not found"}`)
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})

	_, err := c.Poll(context.Background(), "k", "bad-status", PollOptions{Interval: time.Millisecond})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Contains(t, err.Error(), "upstream down")

	_, err = c.Poll(context.Background(), "k", "other", PollOptions{Interval: time.Millisecond})
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "record not found")
}

func TestExtractResultURLs(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want []string
	}{
		{name: "json string", in: `{"resultUrls":["u1","",3,"u2"]}`, want: []string{"u1", "u2"}},
		{name: "raw object", in: json.RawMessage(`{"resultUrls":["u1"]}`), want: []string{"u1"}},
		{name: "raw encoded string", in: json.RawMessage(`"{\"resultUrls\":[\"u1\"]}"`), want: []string{"u1"}},
		{name: "bytes", in: []byte(`{"resultUrls":["u1"]}`), want: []string{"u1"}},
		{name: "map", in: map[string]any{"resultUrls": []any{"u1"}}, want: []string{"u1"}},
		{name: "malformed", in: `{"resultUrls":`, want: []string{}},
		{name: "missing key", in: `{"other":1}`, want: []string{}},
		{name: "not a list", in: `{"resultUrls":"u1"}`, want: []string{}},
		{name: "nil", in: nil, want: []string{}},
		{name: "empty", in: "", want: []string{}},
		{name: "unsupported", in: 42, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractResultURLs(tc.in))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	assert.ErrorIs(t, &SubmissionError{Message: "request failed", Err: cause}, cause)
	assert.ErrorIs(t, &TransportError{TaskID: "t", Message: "request failed", Err: cause}, cause)
	assert.Equal(t, "kie: task failed", (&TaskFailedError{}).Error())
}
