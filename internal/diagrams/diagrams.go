// Package diagrams implements the DiagramProvider (C8): a read-only
// HTTP surface over a directory of pre-generated Mermaid diagrams and
// their JSON metadata sidecars (spec.md §4.6).
package diagrams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Server serves the three diagram endpoints from a configured
// directory. Grounded on the teacher's internal/api.Server: a plain
// net/http.Server wrapping an http.ServeMux, no router framework.
type Server struct {
	dir     string
	address string
	port    int
	logger  *slog.Logger
	server  *http.Server
}

// New constructs a Server reading diagrams from dir.
func New(dir, address string, port int) *Server {
	return &Server{
		dir:     dir,
		address: address,
		port:    port,
		logger:  slog.Default().With("component", "diagrams"),
	}
}

// Start begins serving HTTP requests; it blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/diagrams/list", s.handleList)
	mux.HandleFunc("GET /api/diagram/{configType}/metadata", s.handleMetadata)
	mux.HandleFunc("GET /api/diagram/{configType}/{diagramName}", s.handleDiagram)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting diagram provider", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleList enumerates every config_type subdirectory under dir that
// has at least one .mmd file (spec.md §4.6 "GET /api/diagrams/list").
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	var configTypes []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if hasAnyMmd(filepath.Join(s.dir, e.Name())) {
			configTypes = append(configTypes, e.Name())
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"config_types": configTypes})
}

// handleDiagram returns one diagram's Mermaid source plus its sidecar
// metadata (spec.md §4.6 "GET /api/diagram/<config_type>/<diagram_name>").
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("configType")
	diagramName := r.PathValue("diagramName")

	base := filepath.Join(s.dir, configType, diagramName)
	source, err := os.ReadFile(base + ".mmd")
	if os.IsNotExist(err) {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("diagram %s/%s not found", configType, diagramName))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	metadata, err := readMetadata(base + ".json")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config_type": configType,
		"name":        diagramName,
		"source":      string(source),
		"metadata":    metadata,
	})
}

// handleMetadata returns only the metadata sidecar for configType's
// primary diagram (named after the config type itself), without the
// Mermaid source (spec.md §4.6 "GET /api/diagram/<config_type>/metadata").
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("configType")
	metadataPath := filepath.Join(s.dir, configType, configType+".json")

	metadata, err := readMetadata(metadataPath)
	if os.IsNotExist(err) {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("metadata for %s not found", configType))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, metadata)
}

// readMetadata decodes a diagram's JSON sidecar: states and composite
// membership (spec.md §4.6).
func readMetadata(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return metadata, nil
}

func hasAnyMmd(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".mmd") {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
