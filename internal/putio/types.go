package putio

import "strings"

// Transfer status strings reported by the put.io API.
// Comparison is always case-insensitive.
const (
	StatusStopped            = "STOPPED"
	StatusCompleted          = "COMPLETED"
	StatusError              = "ERROR"
	StatusCheckWait          = "CHECKWAIT"
	StatusPreparingDownload  = "PREPARING_DOWNLOAD"
	StatusCheck              = "CHECK"
	StatusCompleting         = "COMPLETING"
	StatusQueued             = "QUEUED"
	StatusInQueue            = "IN_QUEUE"
	StatusDownloading        = "DOWNLOADING"
	StatusSeedingWait        = "SEEDINGWAIT"
	StatusSeeding            = "SEEDING"
)

// File type strings reported by the files API.
const (
	FileTypeFolder = "FOLDER"
	FileTypeVideo  = "VIDEO"
)

// AccountInfo describes the authenticated put.io account.
type AccountInfo struct {
	Username string `json:"username"`
	Mail     string `json:"mail"`
}

// Transfer is a transfer entity as returned by the put.io API.
// Pointer fields are absent in some lifecycle phases: FileID only appears
// once the transfer has produced a file tree.
type Transfer struct {
	ID             uint64  `json:"id"`
	Hash           *string `json:"hash"`
	Name           *string `json:"name"`
	Size           *int64  `json:"size"`
	Downloaded     *int64  `json:"downloaded"`
	EstimatedTime  *int64  `json:"estimated_time"`
	Status         string  `json:"status"`
	StartedAt      *string `json:"started_at"`
	FinishedAt     *string `json:"finished_at"`
	FileID         *int64  `json:"file_id"`
	SaveParentID   *int64  `json:"save_parent_id"`
	Source         *string `json:"source"`
	UserfileExists bool    `json:"userfile_exists"`
	ErrorMessage   *string `json:"error_message"`
}

// Downloadable reports whether the transfer has a file tree to fetch yet.
func (t *Transfer) Downloadable() bool {
	return t.FileID != nil
}

// StatusIs compares the transfer status case-insensitively.
func (t *Transfer) StatusIs(status string) bool {
	return strings.EqualFold(t.Status, status)
}

// File is a node in the put.io file tree.
type File struct {
	ID          int64  `json:"id"`
	ParentID    int64  `json:"parent_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	FileType    string `json:"file_type"`
	Size        int64  `json:"size"`
}

// IsFolder reports whether the node is a folder. Case-insensitive.
func (f *File) IsFolder() bool {
	return strings.EqualFold(f.FileType, FileTypeFolder)
}

// IsVideo reports whether the node is a video file. Case-insensitive.
func (f *File) IsVideo() bool {
	return strings.EqualFold(f.FileType, FileTypeVideo)
}

// FileListing is a folder node together with its direct children.
type FileListing struct {
	Parent File   `json:"parent"`
	Files  []File `json:"files"`
}
