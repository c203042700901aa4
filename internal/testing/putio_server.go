// Package testing provides fake upstream servers and fixture generators
// for tests.
package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/putreap/putreap/internal/putio"
)

// PutioServer is a fake put.io API backed by in-memory state. Tests seed
// transfers and a file tree, point a putio.Client at URL(), and inspect
// the mutations the code under test performed.
type PutioServer struct {
	*httptest.Server

	mu        sync.Mutex
	account   putio.AccountInfo
	transfers map[uint64]*putio.Transfer
	files     map[int64]*putio.File
	contents  map[int64][]byte

	removedTransfers []uint64
	deletedFiles     []int64
	uploads          []string
	nextTransferID   uint64
	nextFileID       int64
}

// NewPutioServer creates a fake put.io API server.
func NewPutioServer() *PutioServer {
	s := &PutioServer{
		account:        putio.AccountInfo{Username: "tester", Mail: "tester@example.com"},
		transfers:      make(map[uint64]*putio.Transfer),
		files:          make(map[int64]*putio.File),
		contents:       make(map[int64][]byte),
		nextTransferID: 1,
		nextFileID:     1000,
	}

	// The account root always exists.
	s.files[0] = &putio.File{ID: 0, Name: "Your Files", FileType: putio.FileTypeFolder}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /account/info", s.handleAccountInfo)
	mux.HandleFunc("GET /transfers/list", s.handleListTransfers)
	mux.HandleFunc("GET /transfers/{id}", s.handleGetTransfer)
	mux.HandleFunc("POST /transfers/add", s.handleAddTransfer)
	mux.HandleFunc("POST /transfers/cancel", s.handleCancelTransfer)
	mux.HandleFunc("GET /files/list", s.handleListFiles)
	mux.HandleFunc("GET /files/{id}/url", s.handleFileURL)
	mux.HandleFunc("POST /files/delete", s.handleDeleteFiles)
	mux.HandleFunc("POST /files/create-folder", s.handleCreateFolder)
	mux.HandleFunc("POST /files/upload", s.handleUpload)
	mux.HandleFunc("GET /download/{id}", s.handleDownload)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddTransfer seeds a transfer and returns it.
func (s *PutioServer) AddTransfer(t putio.Transfer) *putio.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		t.ID = s.nextTransferID
		s.nextTransferID++
	}
	s.transfers[t.ID] = &t
	return &t
}

// SetTransferStatus updates the status of a seeded transfer.
func (s *PutioServer) SetTransferStatus(id uint64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transfers[id]; ok {
		t.Status = status
	}
}

// AddFolder seeds a folder node and returns its id.
func (s *PutioServer) AddFolder(parentID int64, name string) int64 {
	return s.addFile(parentID, name, putio.FileTypeFolder, "", nil)
}

// AddVideo seeds a video file with the given content and returns its id.
func (s *PutioServer) AddVideo(parentID int64, name string, content []byte) int64 {
	return s.addFile(parentID, name, putio.FileTypeVideo, "video/x-matroska", content)
}

// AddFile seeds an arbitrary file node and returns its id.
func (s *PutioServer) AddFile(parentID int64, name, fileType string, content []byte) int64 {
	return s.addFile(parentID, name, fileType, "", content)
}

func (s *PutioServer) addFile(parentID int64, name, fileType, contentType string, content []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextFileID
	s.nextFileID++

	s.files[id] = &putio.File{
		ID:          id,
		ParentID:    parentID,
		Name:        name,
		FileType:    fileType,
		ContentType: contentType,
		Size:        int64(len(content)),
	}
	if content != nil {
		s.contents[id] = content
	}
	return id
}

// RemovedTransfers returns the ids passed to /transfers/cancel, in order.
func (s *PutioServer) RemovedTransfers() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.removedTransfers))
	copy(out, s.removedTransfers)
	return out
}

// DeletedFiles returns the ids passed to /files/delete, in order.
func (s *PutioServer) DeletedFiles() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.deletedFiles))
	copy(out, s.deletedFiles)
	return out
}

// Uploads returns the file names received on /files/upload, in order.
func (s *PutioServer) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *PutioServer) handleAccountInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"info": s.account, "status": "OK"})
}

func (s *PutioServer) handleListTransfers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfers := make([]putio.Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		transfers = append(transfers, *t)
	}
	writeJSON(w, map[string]any{"transfers": transfers, "status": "OK"})
}

func (s *PutioServer) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{"transfer": t, "status": "OK"})
}

func (s *PutioServer) handleAddTransfer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source := r.PostFormValue("url")
	name := "transfer-" + strconv.FormatUint(s.nextTransferID, 10)
	t := &putio.Transfer{
		ID:     s.nextTransferID,
		Name:   &name,
		Source: &source,
		Status: putio.StatusInQueue,
	}
	if v := r.PostFormValue("save_parent_id"); v != "" {
		parentID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "bad save_parent_id", http.StatusBadRequest)
			return
		}
		t.SaveParentID = &parentID
	}
	s.nextTransferID++
	s.transfers[t.ID] = t

	writeJSON(w, map[string]any{"transfer": t, "status": "OK"})
}

func (s *PutioServer) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, raw := range strings.Split(r.PostFormValue("transfer_ids"), ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			http.Error(w, "bad transfer_ids", http.StatusBadRequest)
			return
		}
		if _, ok := s.transfers[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.transfers, id)
		s.removedTransfers = append(s.removedTransfers, id)
	}
	writeJSON(w, map[string]any{"status": "OK"})
}

func (s *PutioServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	parentID, err := strconv.ParseInt(r.URL.Query().Get("parent_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad parent_id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.files[parentID]
	if !ok {
		http.NotFound(w, r)
		return
	}

	children := make([]putio.File, 0)
	for _, f := range s.files {
		if f.ID != parentID && f.ParentID == parentID {
			children = append(children, *f)
		}
	}
	writeJSON(w, putio.FileListing{Parent: *parent, Files: children})
}

func (s *PutioServer) handleFileURL(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"url": fmt.Sprintf("%s/download/%d", s.Server.URL, id),
	})
}

func (s *PutioServer) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, raw := range strings.Split(r.PostFormValue("file_ids"), ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			http.Error(w, "bad file_ids", http.StatusBadRequest)
			return
		}
		if _, ok := s.files[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.files, id)
		delete(s.contents, id)
		s.deletedFiles = append(s.deletedFiles, id)
	}
	writeJSON(w, map[string]any{"status": "OK"})
}

func (s *PutioServer) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	parentID, err := strconv.ParseInt(r.PostFormValue("parent_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad parent_id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := &putio.File{
		ID:       s.nextFileID,
		ParentID: parentID,
		Name:     r.PostFormValue("name"),
		FileType: putio.FileTypeFolder,
	}
	s.nextFileID++
	s.files[f.ID] = f

	writeJSON(w, map[string]any{"file": f, "status": "OK"})
}

func (s *PutioServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "bad upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, header.Filename)
	writeJSON(w, map[string]any{"status": "OK"})
}

func (s *PutioServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	content, ok := s.contents[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(content)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
