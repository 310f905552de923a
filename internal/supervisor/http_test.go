package supervisor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, accessKey string) (*httptest.Server, *Manager) {
	t.Helper()
	m := newTestManager(newFakeSpawner(), 1)
	t.Cleanup(m.Close)
	srv, err := NewServer(m, accessKey, 100*time.Millisecond, ServerInfo{LLMEnabled: false, Model: ""}, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, m
}

func post(t *testing.T, ts *httptest.Server, path, key, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if key != "" {
		req.Header.Set("x-ret-bot-access-key", key)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAuth_MissingOrWrongKey(t *testing.T) {
	ts, _ := newTestServer(t, "k")

	resp, body := post(t, ts, "/internal/bots/room-config", "", `{"hub_sid":"abc123","bots":{"enabled":true,"count":2}}`)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("missing key: %d %v", resp.StatusCode, body)
	}
	resp, _ = post(t, ts, "/internal/bots/room-stop", "wrong", `{"hub_sid":"abc123"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", resp.StatusCode)
	}
}

func TestAuth_NoKeyConfiguredOpen(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, _ := post(t, ts, "/internal/bots/room-stop", "", `{"hub_sid":"abc123"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open mode: %d", resp.StatusCode)
	}
}

func TestRoomConfig_BadHubSID(t *testing.T) {
	ts, _ := newTestServer(t, "k")

	for _, body := range []string{
		`{"bots":{"enabled":true,"count":2}}`,
		`{"hub_sid":42,"bots":{"enabled":true}}`,
		`{"hub_sid":""}`,
		`not json`,
	} {
		resp, decoded := post(t, ts, "/internal/bots/room-config", "k", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status %d", body, resp.StatusCode)
		}
		if _, ok := decoded["error"]; !ok {
			t.Fatalf("body %q: no error field", body)
		}
	}
}

func TestRoomConfig_NormalisesAndReportsState(t *testing.T) {
	ts, _ := newTestServer(t, "k")

	resp, body := post(t, ts, "/internal/bots/room-config", "k",
		`{"hub_sid":"abc123","bots":{"enabled":true,"count":9,"mobility":"warp","chat_enabled":true}}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["runner_state"] != "running" {
		t.Fatalf("runner_state: %v", body["runner_state"])
	}
	bots := body["bots"].(map[string]any)
	if bots["count"] != float64(5) {
		t.Fatalf("count clamp to max_bots_per_room: %v", bots["count"])
	}
	if bots["mobility"] != "medium" {
		t.Fatalf("mobility default: %v", bots["mobility"])
	}
}

func TestRoomStopAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, "k")

	post(t, ts, "/internal/bots/room-config", "k", `{"hub_sid":"hubA","bots":{"enabled":true,"count":2}}`)
	post(t, ts, "/internal/bots/room-config", "k", `{"hub_sid":"hubB","bots":{"enabled":true,"count":2}}`)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var h map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if h["ok"] != true || h["active_rooms"] != float64(1) || h["queued_rooms"] != float64(1) {
		t.Fatalf("health: %v", h)
	}
	if h["max_active_rooms"] != float64(1) || h["max_bots_per_room"] != float64(5) {
		t.Fatalf("health limits: %v", h)
	}

	resp2, body := post(t, ts, "/internal/bots/room-stop", "k", `{"hub_sid":"hubA"}`)
	if resp2.StatusCode != http.StatusOK || body["runner_state"] != "stopped" {
		t.Fatalf("stop: %d %v", resp2.StatusCode, body)
	}

	resp, err = ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	h = map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	active := h["active_hubs"].([]any)
	if len(active) != 1 || active[0] != "hubB" {
		t.Fatalf("promotion in health: %v", h)
	}
}

func TestChat_ValidationAndRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, "k")

	resp, _ := post(t, ts, "/internal/bots/chat", "k", `{"hub_sid":"abc123","bot_id":"bot-1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing message: %d", resp.StatusCode)
	}

	resp, body := post(t, ts, "/internal/bots/chat", "k",
		`{"hub_sid":"abc123","bot_id":"bot-1","message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: %d", resp.StatusCode)
	}
	if _, ok := body["reply"]; !ok {
		t.Fatalf("reply missing: %v", body)
	}
	if body["action"] != nil {
		t.Fatalf("action should be null: %v", body)
	}

	resp, _ = post(t, ts, "/internal/bots/chat", "k",
		`{"hub_sid":"abc123","bot_id":"bot-1","message":"again"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limit: %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := ts.Client().Get(ts.URL + "/internal/bots/room-config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("method: %d", resp.StatusCode)
	}
}
