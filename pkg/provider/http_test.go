package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

func fastConfig(endpoint string) HTTPConfig {
	return HTTPConfig{
		Endpoint:  endpoint,
		RateLimit: rate.Inf,
		Timeout:   5 * time.Second,
	}
}

func TestHTTPCodegen_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req codegenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Prompt != "build the page" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(codegenResponse{Content: "<files></files>"})
	}))
	defer srv.Close()

	p, err := NewHTTPCodegen(fastConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Generate(context.Background(), "build the page")
	if err != nil {
		t.Fatal(err)
	}
	if out != "<files></files>" {
		t.Errorf("content = %q", out)
	}
}

func TestHTTPCodegen_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(codegenResponse{Content: "ok"})
	}))
	defer srv.Close()

	p, err := NewHTTPCodegen(fastConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if out != "ok" || calls.Load() != 3 {
		t.Errorf("out=%q calls=%d", out, calls.Load())
	}
}

func TestHTTPCodegen_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := NewHTTPCodegen(fastConfig(srv.URL))
	_, err := p.Generate(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *errors.ProviderError
	if !errors.As(err, &provErr) || provErr.StatusCode != http.StatusBadRequest {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPCodegen_HonorsCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, _ := NewHTTPCodegen(fastConfig(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(ctx, "p")
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancel")
	}
}

func TestHTTPCodegen_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPCodegen(HTTPConfig{}); err == nil {
		t.Fatal("expected config error")
	}
}

func TestHTTPScorer_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Baseline == "" || req.Candidate == "" {
			t.Error("images not forwarded")
		}
		json.NewEncoder(w).Encode(map[string]float64{
			"layout": 0.9, "style": 0.8, "a11y": 0.7, "perceptual": 0.6,
		})
	}))
	defer srv.Close()

	p, err := NewHTTPScorer(fastConfig(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	vec, err := p.Score(context.Background(), ScoreRequest{
		Baseline:  []byte("png-a"),
		Candidate: []byte("png-b"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := design.Vector{Layout: 0.9, Style: 0.8, A11y: 0.7, Perceptual: 0.6}
	if vec != want {
		t.Errorf("vector = %+v, want %+v", vec, want)
	}
}

func TestHTTPScorer_MalformedPayloadFallsBack(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "garbage"},
		{"missing dimension", `{"layout":0.5,"style":0.5,"a11y":0.5}`},
		{"out of range", `{"layout":1.5,"style":0.5,"a11y":0.5,"perceptual":0.5}`},
		{"extra field", `{"layout":0.5,"style":0.5,"a11y":0.5,"perceptual":0.5,"confidence":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := NewHTTPScorer(fastConfig(srv.URL))
			vec, err := p.Score(context.Background(), ScoreRequest{})
			if err != nil {
				t.Fatal(err)
			}
			if vec != design.FallbackVector() {
				t.Errorf("vector = %+v, want fallback", vec)
			}
		})
	}
}

func TestHTTPScorer_TransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := NewHTTPScorer(fastConfig(srv.URL))
	if _, err := p.Score(context.Background(), ScoreRequest{}); err == nil {
		t.Fatal("expected error for HTTP failure")
	}
}
