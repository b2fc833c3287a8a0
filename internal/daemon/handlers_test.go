package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/history"
)

func newTestServer(t *testing.T) (*httptest.Server, history.Store, *chain.Assembler) {
	t.Helper()

	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	broadcaster := NewSSEBroadcaster()
	asm := chain.NewAssembler(chain.NewTracker(), broadcaster, nil, nil)

	cfg := config.DefaultConfig()
	srv := NewServer(cfg, store, asm, broadcaster, "test")

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return ts, store, asm
}

func postEvent(t *testing.T, ts *httptest.Server, payload string) {
	t.Helper()

	resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/events failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %q", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("Expected version test, got %q", health.Version)
	}
}

func TestIngestAndTabChain(t *testing.T) {
	ts, _, _ := newTestServer(t)

	postEvent(t, ts, `{"event":"navigationPending","tabId":7,"frameId":0,"url":"https://old.example.com/"}`)
	postEvent(t, ts, `{"event":"headersReceived","tabId":7,"frameId":0,"url":"https://old.example.com/","statusCode":301,"statusLine":"HTTP/1.1 301 Moved Permanently","responseHeaders":[{"name":"Location","value":"https://new.example.com/"}]}`)
	postEvent(t, ts, `{"event":"headersReceived","tabId":7,"frameId":0,"url":"https://new.example.com/","statusCode":200,"statusLine":"HTTP/1.1 200 OK"}`)

	resp, err := http.Get(ts.URL + "/api/tabs/7/chain")
	if err != nil {
		t.Fatalf("GET chain failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var cr ChainResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("Failed to decode chain response: %v", err)
	}

	if len(cr.Hops) != 2 {
		t.Fatalf("Expected 2 hops, got %d", len(cr.Hops))
	}
	if cr.OriginalURL != "https://old.example.com/" {
		t.Errorf("Expected original URL, got %q", cr.OriginalURL)
	}
	if cr.FinalURL != "https://new.example.com/" {
		t.Errorf("Expected final URL, got %q", cr.FinalURL)
	}
	// 301 + 200: -10 for one redirect
	if cr.Score.Score != 90 {
		t.Errorf("Expected provisional score 90, got %d", cr.Score.Score)
	}
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	ts, _, _ := newTestServer(t)

	cases := []string{
		`{not json`,
		`{"event":"nonsense","tabId":1}`,
	}
	for _, payload := range cases {
		resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for %q, got %d", payload, resp.StatusCode)
		}
	}
}

func TestClearTabChain(t *testing.T) {
	ts, _, _ := newTestServer(t)

	postEvent(t, ts, `{"event":"headersReceived","tabId":3,"frameId":0,"url":"https://a.com/","statusCode":200}`)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/tabs/3/chain", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE chain failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	chainResp, err := http.Get(ts.URL + "/api/tabs/3/chain")
	if err != nil {
		t.Fatalf("GET chain failed: %v", err)
	}
	defer func() { _ = chainResp.Body.Close() }()

	var cr ChainResponse
	if err := json.NewDecoder(chainResp.Body).Decode(&cr); err != nil {
		t.Fatalf("Failed to decode chain response: %v", err)
	}
	if len(cr.Hops) != 0 {
		t.Errorf("Expected empty chain after clear, got %d hops", len(cr.Hops))
	}
}

func seedEntry(t *testing.T, store history.Store, url string) *history.Entry {
	t.Helper()

	hop := chain.NewHop(url, 200, "HTTP/1.1 200 OK", nil)
	entry, err := store.Save([]chain.Hop{hop})
	if err != nil {
		t.Fatalf("Failed to seed entry: %v", err)
	}
	return entry
}

func TestHistoryEndpoints(t *testing.T) {
	ts, store, _ := newTestServer(t)

	entry := seedEntry(t, store, "https://example.com/")
	seedEntry(t, store, "https://other.org/")

	// List
	resp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	var entries []*history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	_ = resp.Body.Close()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	// Detail
	resp, err = http.Get(ts.URL + "/api/history/" + entry.ID)
	if err != nil {
		t.Fatalf("GET detail failed: %v", err)
	}
	var got history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode detail: %v", err)
	}
	_ = resp.Body.Close()
	if got.ID != entry.ID {
		t.Errorf("Expected entry %s, got %s", entry.ID, got.ID)
	}

	// Patch favorite
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/history/"+entry.ID, strings.NewReader(`{"isFavorite":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH failed: %v", err)
	}
	var updated history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("Failed to decode updated entry: %v", err)
	}
	_ = resp.Body.Close()
	if !updated.IsFavorite {
		t.Error("Expected entry to be marked favorite")
	}

	// Delete
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/history/"+entry.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", resp.StatusCode)
	}

	// Missing entry is a 404
	resp, err = http.Get(ts.URL + "/api/history/" + entry.ID)
	if err != nil {
		t.Fatalf("GET deleted detail failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for deleted entry, got %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, store, _ := newTestServer(t)

	seedEntry(t, store, "https://example.com/")
	seedEntry(t, store, "https://other.org/")

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET stats failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	if stats.TotalEntries != 2 {
		t.Errorf("Expected 2 total entries, got %d", stats.TotalEntries)
	}
	if stats.Entries24h != 2 {
		t.Errorf("Expected 2 entries in last 24h, got %d", stats.Entries24h)
	}
	if stats.GradeCounts["A"] != 2 {
		t.Errorf("Expected 2 A grades, got %d", stats.GradeCounts["A"])
	}
	if len(stats.WorstChains) != 2 {
		t.Errorf("Expected 2 worst chains, got %d", len(stats.WorstChains))
	}
}

func TestExportCSV(t *testing.T) {
	ts, store, _ := newTestServer(t)

	seedEntry(t, store, "https://example.com/path,with,commas")

	resp, err := http.Get(ts.URL + "/api/history/export?format=csv")
	if err != nil {
		t.Fatalf("GET export failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %q", ct)
	}

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	if !strings.HasPrefix(body, "id,original_url,final_url") {
		t.Errorf("Expected CSV header, got %q", body)
	}
	if !strings.Contains(body, `"https://example.com/path,with,commas"`) {
		t.Errorf("Expected quoted URL in CSV, got %q", body)
	}
}

func TestCSVEscape(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"has,comma", "\"has,comma\""},
		{"has\"quote", "\"has\"\"quote\""},
		{"has\nnewline", "\"has\nnewline\""},
	}

	for _, tc := range cases {
		if got := csvEscape(tc.input); got != tc.expected {
			t.Errorf("csvEscape(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestSSEBroadcasterClientCount(t *testing.T) {
	b := NewSSEBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	if b.ClientCount() != 2 {
		t.Fatalf("Expected 2 clients, got %d", b.ClientCount())
	}

	b.Broadcast(SSEEvent{Type: SSEHeartbeat, Data: map[string]any{}})
	select {
	case ev := <-ch1:
		if ev.Type != SSEHeartbeat {
			t.Errorf("Expected heartbeat, got %q", ev.Type)
		}
	default:
		t.Error("Expected event on subscribed channel")
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch2)
	if b.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after unsubscribe, got %d", b.ClientCount())
	}
}

func TestSSEBroadcasterImplementsNotifier(t *testing.T) {
	var _ chain.Notifier = NewSSEBroadcaster()

	b := NewSSEBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.NavigationStarted(1, "https://example.com/", "Example")
	b.BadgeUpdated(1, chain.Badge{Text: "301", Color: "orange"})

	first := <-ch
	if first.Type != SSENavigationStarted {
		t.Errorf("Expected %s, got %q", SSENavigationStarted, first.Type)
	}
	second := <-ch
	if second.Type != SSEBadgeUpdated {
		t.Errorf("Expected %s, got %q", SSEBadgeUpdated, second.Type)
	}
}
