// Package transfer holds the process-local mirror of a put.io transfer and
// the message types the download engine passes between its workers.
package transfer

import (
	"fmt"
	"sync"

	"github.com/putreap/putreap/internal/putio"
)

// Display defaults for transfers the remote side has not fully described yet.
const (
	unknownName = "Unknown"
	defaultHash = "0000"
)

// Transfer mirrors a remote put.io transfer through the download pipeline.
// It is created from a listing record and mutated only through SetTargets.
type Transfer struct {
	ID           uint64
	FileID       *int64
	SaveParentID *int64

	name          *string
	hash          *string
	size          *int64
	downloaded    *int64
	estimatedTime *int64
	status        string

	mu      sync.Mutex
	targets []DownloadTarget
}

// New creates a Transfer from a remote listing record.
func New(remote *putio.Transfer) *Transfer {
	return &Transfer{
		ID:            remote.ID,
		FileID:        remote.FileID,
		SaveParentID:  remote.SaveParentID,
		name:          remote.Name,
		hash:          remote.Hash,
		size:          remote.Size,
		downloaded:    remote.Downloaded,
		estimatedTime: remote.EstimatedTime,
		status:        remote.Status,
	}
}

// Name returns the human label, or "Unknown" when the remote side has none.
func (t *Transfer) Name() string {
	if t.name == nil || *t.name == "" {
		return unknownName
	}
	return *t.name
}

// Hash returns the infohash, or "0000" when the remote side has none.
func (t *Transfer) Hash() string {
	if t.hash == nil || *t.hash == "" {
		return defaultHash
	}
	return *t.hash
}

// Size returns the total size in bytes, zero if unknown.
func (t *Transfer) Size() int64 {
	if t.size == nil {
		return 0
	}
	return *t.size
}

// Downloaded returns the downloaded byte count, zero if unknown.
func (t *Transfer) Downloaded() int64 {
	if t.downloaded == nil {
		return 0
	}
	return *t.downloaded
}

// EstimatedTime returns the remote ETA in seconds, zero if unknown.
func (t *Transfer) EstimatedTime() int64 {
	if t.estimatedTime == nil {
		return 0
	}
	return *t.estimatedTime
}

// Status returns the remote status string as last observed.
func (t *Transfer) Status() string {
	return t.status
}

// LeftUntilDone returns the bytes still missing remotely, clamped to zero
// when the remote reports downloaded > size.
func (t *Transfer) LeftUntilDone() int64 {
	left := t.Size() - t.Downloaded()
	if left < 0 {
		return 0
	}
	return left
}

// PercentDone returns remote progress in [0,1].
func (t *Transfer) PercentDone() float64 {
	size := t.Size()
	if size == 0 {
		return 0
	}
	done := float64(t.Downloaded()) / float64(size)
	if done > 1 {
		return 1
	}
	return done
}

// SetTargets stores the download plan.
func (t *Transfer) SetTargets(targets []DownloadTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets = targets
}

// Targets returns a copy of the download plan.
func (t *Transfer) Targets() []DownloadTarget {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DownloadTarget, len(t.targets))
	copy(out, t.targets)
	return out
}

// FileTargets returns the plan's file targets, in plan order.
func (t *Transfer) FileTargets() []DownloadTarget {
	t.mu.Lock()
	defer t.mu.Unlock()
	var files []DownloadTarget
	for _, target := range t.targets {
		if target.Kind == TargetFile {
			files = append(files, target)
		}
	}
	return files
}

// TopLevel returns the plan's top-level target, nil if the plan is empty.
func (t *Transfer) TopLevel() *DownloadTarget {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.targets {
		if t.targets[i].TopLevel {
			target := t.targets[i]
			return &target
		}
	}
	return nil
}

// String implements fmt.Stringer for log correlation.
func (t *Transfer) String() string {
	return fmt.Sprintf("%s (%d)", t.Name(), t.ID)
}
