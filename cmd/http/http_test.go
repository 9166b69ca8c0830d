package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mg52/unfold/internal/app"
	"github.com/mg52/unfold/internal/config"
)

func newTestHTTP(t *testing.T, mutate func(*config.Config)) (*HTTP, string) {
	t.Helper()
	root, err := filepath.Abs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"projects/invoice.pdf", "projects/main.go", "music/song.mp3"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Index.Roots = []string{root}
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	if _, err := a.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	return NewHTTP(a, nil), root
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	h, _ := newTestHTTP(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK; got %d", rr.Code)
	}
	resp := decode(t, rr)
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok; got %v", resp["status"])
	}
}

func TestSearchHandler_Success(t *testing.T) {
	h, root := newTestHTTP(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/search?q=invoice&limit=5", nil)
	rr := httptest.NewRecorder()
	h.Search(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode(t, rr)
	body, ok := resp["response"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing response: %v", resp)
	}
	results, _ := body["results"].([]interface{})
	if len(results) == 0 {
		t.Fatalf("expected at least one result; got %v", body)
	}
	first := results[0].(map[string]interface{})["record"].(map[string]interface{})
	if want := filepath.Join(root, "projects", "invoice.pdf"); first["path"] != want {
		t.Errorf("expected top hit %s; got %v", want, first["path"])
	}
}

func TestSearchHandler_Filters(t *testing.T) {
	h, _ := newTestHTTP(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/search?q=projects&kind=dirs", nil)
	rr := httptest.NewRecorder()
	h.Search(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rr.Code)
	}
	body := decode(t, rr)["response"].(map[string]interface{})
	for _, r := range body["results"].([]interface{}) {
		rec := r.(map[string]interface{})["record"].(map[string]interface{})
		if rec["is_dir"] != true {
			t.Errorf("kind=dirs returned a file: %v", rec["path"])
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/search?q=song&ext=pdf", nil)
	rr = httptest.NewRecorder()
	h.Search(rr, req)
	body = decode(t, rr)["response"].(map[string]interface{})
	if results, _ := body["results"].([]interface{}); len(results) != 0 {
		t.Errorf("ext=pdf should exclude song.mp3; got %v", results)
	}
}

func TestSearchHandler_BadRequest(t *testing.T) {
	h, _ := newTestHTTP(t, nil)
	for _, url := range []string{"/search?q=a&kind=sockets", "/search?q=a&limit=-1", "/search?q=a&limit=x", "/search?q=a&limit=1001"} {
		rr := httptest.NewRecorder()
		h.Search(rr, httptest.NewRequest(http.MethodGet, url, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400; got %d", url, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.Recent(rr, httptest.NewRequest(http.MethodGet, "/recent?limit=5000", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("limit above the cap: expected 400; got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodPost, "/search?q=a", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405; got %d", rr.Code)
	}
}

func TestSearchHandler_RateLimited(t *testing.T) {
	h, _ := newTestHTTP(t, func(c *config.Config) {
		c.Server.SearchRate = 0.001
		c.Server.SearchBurst = 1
	})
	codes := make([]int, 0, 2)
	for range 2 {
		rr := httptest.NewRecorder()
		h.Search(rr, httptest.NewRequest(http.MethodGet, "/search?q=main", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429]; got %v", codes)
	}
}

func TestOpenThenRecentAndFrequent(t *testing.T) {
	h, root := newTestHTTP(t, nil)
	target := filepath.Join(root, "music", "song.mp3")
	body, _ := json.Marshal(OpenRequest{Path: target})

	for range 2 {
		rr := httptest.NewRecorder()
		h.Open(rr, httptest.NewRequest(http.MethodPost, "/open", strings.NewReader(string(body))))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200; got %d: %s", rr.Code, rr.Body.String())
		}
	}

	for _, handler := range []http.HandlerFunc{h.Recent, h.Frequent} {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/recent?limit=3", nil))
		list, _ := decode(t, rr)["response"].([]interface{})
		if len(list) != 1 {
			t.Fatalf("expected one opened file; got %v", list)
		}
		entry := list[0].(map[string]interface{})
		if entry["count"].(float64) != 2 {
			t.Errorf("expected count 2; got %v", entry["count"])
		}
	}
}

func TestOpenHandler_Errors(t *testing.T) {
	h, root := newTestHTTP(t, nil)
	cases := map[string]struct {
		body string
		code int
	}{
		"malformed":    {`{`, http.StatusBadRequest},
		"empty":        {`{}`, http.StatusBadRequest},
		"unknown path": {`{"path":"` + filepath.ToSlash(filepath.Join(root, "nope.txt")) + `"}`, http.StatusNotFound},
		"unknown id":   {`{"id":"00000000-0000-0000-0000-000000000000"}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.Open(rr, httptest.NewRequest(http.MethodPost, "/open", strings.NewReader(tc.body)))
			if rr.Code != tc.code {
				t.Errorf("expected %d; got %d", tc.code, rr.Code)
			}
		})
	}
}

func TestRebuildAndSave(t *testing.T) {
	h, root := newTestHTTP(t, nil)
	if err := os.WriteFile(filepath.Join(root, "fresh.md"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	h.Rebuild(rr, httptest.NewRequest(http.MethodPost, "/rebuild", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d: %s", rr.Code, rr.Body.String())
	}
	var rebuilt RebuildResponse
	if err := json.NewDecoder(rr.Body).Decode(&rebuilt); err != nil {
		t.Fatal(err)
	}
	if rebuilt.Records < 4 {
		t.Errorf("expected the new file to be indexed; got %d records", rebuilt.Records)
	}

	rr = httptest.NewRecorder()
	h.Save(rr, httptest.NewRequest(http.MethodPost, "/save", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rr.Code)
	}
	if _, err := os.Stat(h.app.Config.SnapshotPath()); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestStatsHandler(t *testing.T) {
	h, _ := newTestHTTP(t, nil)
	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rr.Code)
	}
	eng := decode(t, rr)["engine"].(map[string]interface{})
	if eng["records"].(float64) < 5 {
		t.Errorf("expected files and directories to be counted; got %v", eng["records"])
	}
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHTTP(t, nil)
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200; got %d", resp.StatusCode)
	}
}
