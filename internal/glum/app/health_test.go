package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bdobrica/glum/internal/glum/app"
)

type fixedCount struct{ n int }

func (f fixedCount) ConversationCount() int { return f.n }

func TestHealthServer_Health(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", app.BackendMatrix, fixedCount{3}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", app.BackendDiscord, fixedCount{5}, func() int { return 2 }, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if int(resp["conversation_count"].(float64)) != 5 {
		t.Errorf("expected conversation_count 5, got %v", resp["conversation_count"])
	}
	if int(resp["persona_count"].(float64)) != 2 {
		t.Errorf("expected persona_count 2, got %v", resp["persona_count"])
	}
	if resp["backend"] != app.BackendDiscord {
		t.Errorf("expected backend discord, got %v", resp["backend"])
	}
}

func TestHealthServer_RejectsPost(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", app.BackendMatrix, nil, nil, nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", w.Code)
	}
}

func TestHealthServer_StartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hs := app.NewHealthServer(addr, app.BackendMatrix, nil, nil, nil)
	if err := hs.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := http.Get(fmt.Sprintf("http://%s/health", addr)); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("health server still serving after context cancel")
}
