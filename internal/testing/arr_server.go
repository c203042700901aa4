package testing

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// ArrServer is a fake Sonarr/Radarr history API. Tests record imported
// paths and the client under test probes for them.
type ArrServer struct {
	*httptest.Server

	mu        sync.Mutex
	apiKey    string
	imported  []string
	failWith  int
	failCount int
	requests  int
}

// historyResponse mirrors the paged Arr history payload.
type historyResponse struct {
	Page         int            `json:"page"`
	PageSize     int            `json:"pageSize"`
	TotalRecords int            `json:"totalRecords"`
	Records      []historyEntry `json:"records"`
}

type historyEntry struct {
	EventType string            `json:"eventType"`
	Data      map[string]string `json:"data"`
}

// NewArrServer creates a fake Arr server requiring the given API key.
func NewArrServer(apiKey string) *ArrServer {
	s := &ArrServer{apiKey: apiKey}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/history", s.handleHistory)

	s.Server = httptest.NewServer(mux)
	return s
}

// RecordImport marks path as imported in the history.
func (s *ArrServer) RecordImport(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported = append(s.imported, path)
}

// FailNext makes the next n history requests answer with status.
func (s *ArrServer) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
	s.failWith = status
}

// Requests returns how many history requests were served.
func (s *ArrServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *ArrServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if r.Header.Get("X-Api-Key") != s.apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.failCount > 0 {
		s.failCount--
		http.Error(w, "injected failure", s.failWith)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = len(s.imported)
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, len(s.imported))

	records := make([]historyEntry, 0)
	if start < end {
		for _, path := range s.imported[start:end] {
			records = append(records, historyEntry{
				EventType: "downloadFolderImported",
				Data:      map[string]string{"droppedPath": path},
			})
		}
	}

	writeJSON(w, historyResponse{
		Page:         page,
		PageSize:     pageSize,
		TotalRecords: len(s.imported),
		Records:      records,
	})
}
