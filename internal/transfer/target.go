package transfer

import "fmt"

// TargetKind distinguishes the two instructions a plan can contain.
type TargetKind string

const (
	// TargetDirectory instructs the fetcher to create a local directory.
	TargetDirectory TargetKind = "directory"
	// TargetFile instructs the fetcher to stream a remote URL to disk.
	TargetFile TargetKind = "file"
)

// DownloadTarget is one instruction in a download plan.
type DownloadTarget struct {
	// To is the absolute local filesystem path.
	To string
	// From is the HTTP source URL; empty for directory targets.
	From string
	// Kind is the instruction kind.
	Kind TargetKind
	// TopLevel marks the single target whose path is the transfer's local
	// root. Post-import cleanup deletes this path.
	TopLevel bool
	// TransferHash cross-references the owning transfer in logs.
	TransferHash string
}

// String implements fmt.Stringer for log correlation.
func (t *DownloadTarget) String() string {
	return fmt.Sprintf("%s %s [%s]", t.Kind, t.To, t.TransferHash)
}

// Status is the outcome of one download task.
type Status string

const (
	// StatusSuccess means the target is on disk.
	StatusSuccess Status = "success"
	// StatusFailed means the target could not be fetched.
	StatusFailed Status = "failed"
)

// Task carries one target to a fetch worker together with the channel the
// outcome is resolved on. Done is buffered so the fetch worker never blocks
// resolving it.
type Task struct {
	Target DownloadTarget
	Done   chan Status
}

// NewTask creates a task for the given target.
func NewTask(target DownloadTarget) Task {
	return Task{
		Target: target,
		Done:   make(chan Status, 1),
	}
}
