package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return New(url, 2*time.Second, slog.Default())
}

func TestFetchInfo_DecodesFullDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"buildInfo": {"version": "1.4.2", "commitHash": "abc123", "buildTimestamp": 1699999999},
			"agentStatus": "RUNNING",
			"activeTaskCount": 7,
			"activeRequestCount": 3,
			"openSessionsCount": 12
		}`))
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).FetchInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if info.BuildInfo.Version != "1.4.2" {
		t.Errorf("expected version 1.4.2, got %q", info.BuildInfo.Version)
	}
	if info.BuildInfo.CommitHash != "abc123" {
		t.Errorf("expected commit abc123, got %q", info.BuildInfo.CommitHash)
	}
	if info.AgentStatus != "RUNNING" {
		t.Errorf("expected RUNNING, got %q", info.AgentStatus)
	}
	if info.ActiveTaskCount.String() != "7" {
		t.Errorf("expected task count 7, got %q", info.ActiveTaskCount.String())
	}
}

func TestFetchInfo_TimestampAsStringOrNumber(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"number", `{"buildInfo": {"buildTimestamp": 1699999999}}`},
		{"string", `{"buildInfo": {"buildTimestamp": "2024-01-01T00:00:00Z"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			info, err := newTestClient(srv.URL).FetchInfo(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if info.BuildInfo.BuildTimestamp == nil {
				t.Error("expected a build timestamp, got nil")
			}
		})
	}
}

func TestFetchInfo_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchInfo(context.Background())
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
}

func TestFetchInfo_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchInfo(context.Background())
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFetchInfo_ConnectionRefused(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").FetchInfo(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestPing_OKAndNonOK(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}

	status = http.StatusBadGateway
	if err := c.Ping(context.Background()); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus for 502, got %v", err)
	}
}

func TestPing_Unreachable(t *testing.T) {
	err := newTestClient("http://127.0.0.1:1").Ping(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("", 0, slog.Default())
	if c.Endpoint() != DefaultEndpoint {
		t.Errorf("expected default endpoint, got %q", c.Endpoint())
	}
	if c.httpClient.Timeout != DefaultRequestTimeout {
		t.Errorf("expected default timeout, got %v", c.httpClient.Timeout)
	}
}
