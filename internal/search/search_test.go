package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
	gotOpts Options
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, opts Options) ([]Result, error) {
	m.gotOpts = opts
	return m.results, m.err
}

func TestManager_FirstProviderAnswers(t *testing.T) {
	tavily := &mockProvider{name: "tavily", results: []Result{
		{Title: "One", URL: "https://a.example"},
		{Title: "Two", URL: "https://b.example"},
		{Title: "Three", URL: "https://c.example"},
	}}
	backup := &mockProvider{name: "backup", results: []Result{{Title: "Backup"}}}
	mgr := NewManager(tavily, backup)

	resp, err := mgr.Search(context.Background(), "  golang  ", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Query != "golang" || resp.Provider != "tavily" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Results) != 2 {
		t.Errorf("got %d results, want count 2 honoured", len(resp.Results))
	}
	if backup.gotOpts != (Options{}) {
		t.Error("backup provider queried although the first answered")
	}
}

func TestManager_FallsBack(t *testing.T) {
	mgr := NewManager(
		&mockProvider{name: "tavily", err: errors.New("quota exceeded")},
		&mockProvider{name: "backup", results: []Result{{Title: "Backup"}}},
	)

	resp, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Provider != "backup" || resp.Results[0].Title != "Backup" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestManager_AllFail(t *testing.T) {
	mgr := NewManager(
		&mockProvider{name: "tavily", err: errors.New("quota exceeded")},
		&mockProvider{name: "backup", err: errors.New("timeout")},
	)
	_, err := mgr.Search(context.Background(), "q", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"tavily: quota exceeded", "backup: timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %q, missing %q", err, want)
		}
	}
}

func TestManager_Empty(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Search(context.Background(), "q", Options{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
	if _, err := NewManager(&mockProvider{name: "x"}).Search(context.Background(), " ", Options{}); err == nil {
		t.Error("blank query accepted")
	}
}

func TestManager_RegisterReplaces(t *testing.T) {
	mgr := NewManager(&mockProvider{name: "tavily"}, &mockProvider{name: "backup"})
	mgr.Register(&mockProvider{name: "tavily", results: []Result{{Title: "new"}}})

	if got := strings.Join(mgr.Providers(), ","); got != "tavily,backup" {
		t.Errorf("Providers() = %q", got)
	}
	resp, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil || resp.Results[0].Title != "new" {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}
}

func TestTavilySearch(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"query":"go","results":[
			{"title":"Go","url":"https://go.dev","content":"The Go language","score":0.91,"raw_content":"Full page"},
			{"title":"Tour","url":"https://go.dev/tour","content":"A tour","score":0.5,"raw_content":null}
		]}`)
	}))
	defer srv.Close()

	tv := NewTavily("tvly-secret", srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	results, err := tv.Search(context.Background(), "go", Options{Count: 3, RawContent: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotAuth != "Bearer tvly-secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["include_raw_content"] != "text" || gotBody["max_results"] != float64(3) {
		t.Errorf("request body = %v", gotBody)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].RawContent != "Full page" || results[0].Score != 0.91 || results[0].Snippet != "The Go language" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].RawContent != "" {
		t.Errorf("null raw_content = %q, want empty", results[1].RawContent)
	}
}

func TestTavilySearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":{"error":"invalid api key"}}`)
	}))
	defer srv.Close()

	tv := NewTavily("bad", srv.URL, nil)
	_, err := tv.Search(context.Background(), "go", Options{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want HTTP 401", err)
	}
}

func TestToolHandler(t *testing.T) {
	p := &mockProvider{name: "tavily", results: []Result{{Title: "Go", URL: "https://go.dev", Score: 0.9, RawContent: "page"}}}
	handler := ToolHandler(NewManager(p))

	out, err := handler(context.Background(), map[string]any{"query": "golang", "count": float64(50)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if p.gotOpts.Count != 10 || !p.gotOpts.RawContent {
		t.Errorf("opts = %+v, want count capped at 10 with raw content", p.gotOpts)
	}

	var resp Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if resp.Query != "golang" || resp.Provider != "tavily" || len(resp.Results) != 1 || resp.Results[0].RawContent != "page" {
		t.Errorf("resp = %+v", resp)
	}

	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing query")
	}

	p.err = errors.New("quota exceeded")
	if _, err := handler(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Error("expected provider error")
	}
}
