package execution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"flowhub/internal/models"
)

func TestHTTPRequestExecutor_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Tenant"); got != "acme" {
			t.Errorf("X-Tenant = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"total": 99.5})
	}))
	defer server.Close()

	exec := NewHTTPRequestExecutor()
	block := &models.Block{
		ID:   "fetch",
		Type: models.BlockTypeHTTPRequest,
		Config: map[string]any{
			"url":     server.URL + "/orders/{{orderId}}",
			"headers": map[string]any{"X-Tenant": "{{tenant}}"},
		},
	}
	output, err := exec.Execute(context.Background(), block, map[string]any{
		"orderId": "42",
		"tenant":  "acme",
	}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := output["status"]; got != http.StatusOK {
		t.Errorf("status = %v", got)
	}
	data, ok := output["data"].(map[string]any)
	if !ok || data["total"] != 99.5 {
		t.Errorf("data = %v", output["data"])
	}
}

func TestHTTPRequestExecutor_PostBody(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"n-1"}`))
	}))
	defer server.Close()

	exec := NewHTTPRequestExecutor()
	block := &models.Block{
		ID:   "create",
		Type: models.BlockTypeHTTPRequest,
		Config: map[string]any{
			"url":    server.URL + "/notes",
			"method": "post",
			"body":   map[string]any{"text": "{{text}}", "pinned": true},
		},
	}
	output, err := exec.Execute(context.Background(), block, map[string]any{"text": "hello"}, models.Session{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if received["text"] != "hello" || received["pinned"] != true {
		t.Errorf("server received %v", received)
	}
	if got := output["status"]; got != http.StatusCreated {
		t.Errorf("status = %v", got)
	}
}

func TestHTTPRequestExecutor_ErrorClassification(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		transient  bool
	}{
		{http.StatusInternalServerError, "", true},
		{http.StatusBadGateway, "", true},
		{http.StatusTooManyRequests, "3", true},
		{http.StatusNotFound, "", false},
		{http.StatusUnprocessableEntity, "", false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tt.retryAfter != "" {
				w.Header().Set("Retry-After", tt.retryAfter)
			}
			w.WriteHeader(tt.status)
			w.Write([]byte("nope"))
		}))

		exec := NewHTTPRequestExecutor()
		block := &models.Block{ID: "b", Config: map[string]any{"url": server.URL}}
		output, err := exec.Execute(context.Background(), block, nil, models.Session{})
		server.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		var be *BlockError
		if !errors.As(err, &be) {
			t.Errorf("status %d: error %T is not a BlockError", tt.status, err)
			continue
		}
		if be.Retryable != tt.transient {
			t.Errorf("status %d: retryable = %v, want %v", tt.status, be.Retryable, tt.transient)
		}
		if tt.retryAfter != "" && be.RetryAfter <= 0 {
			t.Errorf("status %d: RetryAfter not parsed", tt.status)
		}
		// The response payload stays available for inspection.
		if output == nil || output["status"] != tt.status {
			t.Errorf("status %d: output = %v", tt.status, output)
		}
	}
}

func TestHTTPRequestExecutor_Auth(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	exec := NewHTTPRequestExecutor()
	block := &models.Block{
		ID: "b",
		Config: map[string]any{
			"url":        server.URL,
			"authType":   "bearer",
			"authConfig": map[string]any{"token": "{{token}}"},
		},
	}
	if _, err := exec.Execute(context.Background(), block, map[string]any{"token": "s3cret"}, models.Session{}); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestHTTPRequestExecutor_MissingURL(t *testing.T) {
	exec := NewHTTPRequestExecutor()
	_, err := exec.Execute(context.Background(), &models.Block{ID: "b", Config: map[string]any{}}, nil, models.Session{})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
	var be *BlockError
	if !errors.As(err, &be) || be.Retryable {
		t.Errorf("missing url should be a permanent error, got %v", err)
	}
}
