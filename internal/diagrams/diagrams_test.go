package diagrams

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	workerDir := filepath.Join(dir, "worker")
	if err := os.MkdirAll(workerDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workerDir, "worker.mmd"), []byte("stateDiagram-v2\n"), 0o644); err != nil {
		t.Fatalf("write mmd: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workerDir, "worker.json"), []byte(`{"states":["waiting","processing"]}`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}

	s := New(dir, "127.0.0.1", 0)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/diagrams/list", s.handleList)
	mux.HandleFunc("GET /api/diagram/{configType}/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/diagram/{configType}/{diagramName}", s.handleDiagram)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestListEnumeratesConfigTypesWithDiagrams(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/diagrams/list")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		ConfigTypes []string `json:"config_types"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ConfigTypes) != 1 || body.ConfigTypes[0] != "worker" {
		t.Errorf("config_types = %v, want [worker]", body.ConfigTypes)
	}
}

func TestDiagramReturnsSourceAndMetadata(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/diagram/worker/worker")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Source   string         `json:"source"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Source == "" {
		t.Error("source is empty")
	}
	if body.Metadata["states"] == nil {
		t.Error("metadata.states missing")
	}
}

func TestDiagramNotFoundReturns404(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/diagram/worker/missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMetadataOnlyEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/diagram/worker/metadata")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var metadata map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if metadata["states"] == nil {
		t.Error("states missing")
	}
}
