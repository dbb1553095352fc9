package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/job"
)

func newTestEngine(attempts AttemptStore) *Engine {
	return NewEngine(attempts, EngineOpts{Timeout: 2 * time.Second})
}

func TestEngineDeliversSignedEnvelope(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(DefaultSignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	attempts := NewMemAttemptStore()
	engine := newTestEngine(attempts)

	res, err := engine.DeliverTest(context.Background(), Payload{
		TargetURL: srv.URL,
		EventType: "order.created",
		Data:      json.RawMessage(`{"id":42}`),
		Secret:    "s3cret",
	})
	if err != nil {
		t.Fatalf("DeliverTest() error = %v", err)
	}
	if res.HTTPStatus != http.StatusOK {
		t.Errorf("http_status = %d, want 200", res.HTTPStatus)
	}

	// the signature must cover the exact bytes received by the target
	if ok, expected := Validate(gotBody, "s3cret", gotSig); !ok {
		t.Errorf("received signature %q does not match body (expected %q)", gotSig, expected)
	}

	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("body is not a valid envelope: %v", err)
	}
	if env.Event != "order.created" {
		t.Errorf("event = %q, want order.created", env.Event)
	}
	if string(env.Data) != `{"id":42}` {
		t.Errorf("data = %s", env.Data)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", env.Timestamp, err)
	}

	recorded, _ := attempts.List(context.Background(), 0)
	if len(recorded) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(recorded))
	}
	if recorded[0].Outcome != OutcomeSuccess {
		t.Errorf("attempt outcome = %s, want success", recorded[0].Outcome)
	}
	if recorded[0].Signature != gotSig {
		t.Error("recorded signature differs from the transmitted one")
	}
}

func TestEngineOmitsSignatureWithoutSecret(t *testing.T) {
	var sawHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader.Store(r.Header.Get(DefaultSignatureHeader) != "")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine := newTestEngine(NewMemAttemptStore())
	res, err := engine.DeliverTest(context.Background(), Payload{
		TargetURL: srv.URL,
		EventType: "test.ping",
	})
	if err != nil {
		t.Fatalf("DeliverTest() error = %v", err)
	}
	if sawHeader.Load() {
		t.Error("signature header sent without a secret")
	}
	if res.SignatureSent != "" {
		t.Errorf("signature_sent = %q, want empty", res.SignatureSent)
	}
}

func TestHandlerValidation(t *testing.T) {
	engine := newTestEngine(NewMemAttemptStore())
	handler := engine.Handler()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{{`},
		{name: "missing target_url", payload: `{"event_type":"x"}`},
		{name: "missing event_type", payload: `{"target_url":"http://example.com"}`},
		{name: "malformed url", payload: `{"target_url":"::::","event_type":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler(context.Background(), &job.Job{
				ID:      "j1",
				Payload: json.RawMessage(tt.payload),
			})
			var he *job.HandlerError
			if !errors.As(err, &he) {
				t.Fatalf("handler error = %v, want HandlerError", err)
			}
			if he.Retryable {
				t.Error("validation failures must be permanent")
			}
		})
	}
}

func TestHandlerFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	attempts := NewMemAttemptStore()
	engine := newTestEngine(attempts)
	handler := engine.Handler()

	_, err := handler(context.Background(), &job.Job{
		ID:       "j1",
		Attempts: 1,
		Payload:  json.RawMessage(`{"target_url":"` + srv.URL + `","event_type":"x"}`),
	})
	var he *job.HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("handler error = %v, want HandlerError", err)
	}
	if !he.Retryable {
		t.Error("HTTP 5xx must be retryable")
	}

	recorded, _ := attempts.List(context.Background(), 0)
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeFailure {
		t.Fatalf("failure attempt not recorded: %+v", recorded)
	}
	if recorded[0].HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("attempt http_status = %d, want 503", recorded[0].HTTPStatus)
	}
}

// End-to-end through the dispatcher: an always-failing target exhausts the
// attempt budget, leaving a terminally failed job and one attempt per try.
func TestDeliveryRetriesEndToEnd(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	attempts := NewMemAttemptStore()
	engine := newTestEngine(attempts)
	registry := job.NewRegistry()
	registry.Register(JobType, job.Registration{Handler: engine.Handler()})
	store := job.NewMemStore(registry, job.Scheduler{})

	d := job.NewDispatcher(store, registry, job.DispatcherOpts{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	j, err := store.Enqueue(ctx, JobType, json.RawMessage(
		`{"target_url":"`+srv.URL+`","event_type":"order.created"}`), 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.Get(ctx, j.ID)
		if got.Status == job.StatusFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, _ := store.Get(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if hits.Load() != 3 {
		t.Errorf("target hit %d times, want 3", hits.Load())
	}

	recorded, _ := attempts.List(ctx, 0)
	if len(recorded) != 3 {
		t.Errorf("recorded %d attempts, want 3", len(recorded))
	}

	stats, _ := store.Stats(ctx)
	if stats.QueueDepth() != 0 {
		t.Errorf("queue depth = %d, want 0 after terminal failure", stats.QueueDepth())
	}
}

func TestDeliverTestReportsFailureAsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine := newTestEngine(NewMemAttemptStore())
	res, err := engine.DeliverTest(context.Background(), Payload{
		TargetURL: srv.URL,
		EventType: "test.ping",
	})
	if err != nil {
		t.Fatalf("DeliverTest() error = %v, failed tries are data not errors", err)
	}
	if res.HTTPStatus != http.StatusBadRequest {
		t.Errorf("http_status = %d, want 400", res.HTTPStatus)
	}
}

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{name: "timeout", err: errors.New("context deadline exceeded"), want: "timeout"},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: "connection_refused"},
		{name: "dns", err: errors.New("lookup nope.invalid: no such host"), want: "dns_error"},
		{name: "other network", err: errors.New("connection reset by peer"), want: "network"},
		{name: "server error", status: 502, want: "http_5xx"},
		{name: "throttled", status: 429, want: "http_429"},
		{name: "client error", status: 404, want: "http_4xx"},
		{name: "unclassified", status: 0, want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyReason(tt.err, tt.status); got != tt.want {
				t.Errorf("classifyReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
