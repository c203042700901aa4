package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/putreap/putreap/internal/fileutil"
	"github.com/putreap/putreap/internal/transfer"
)

// Subtitle files ride along with videos regardless of remote content type.
//
//nolint:gochecknoglobals // extension lookup table
var subtitleExtensions = map[string]bool{
	".srt": true,
	".sub": true,
	".vtt": true,
	".ssa": true,
	".ass": true,
}

// planTargets walks the transfer's remote file tree and returns the ordered
// download plan: each directory before the files inside it, skip directories
// and non-media files elided.
func (e *Engine) planTargets(ctx context.Context, t *transfer.Transfer) ([]transfer.DownloadTarget, error) {
	e.logger.Debug().Stringer("transfer", t).Msg("planning targets")

	if t.FileID == nil {
		return nil, errors.New("transfer has no file id")
	}

	return e.recurseTargets(ctx, *t.FileID, t.Hash(), e.cfg.DownloadDirectory, true)
}

func (e *Engine) recurseTargets(
	ctx context.Context, fileID int64, hash, base string, topLevel bool,
) ([]transfer.DownloadTarget, error) {
	listing, err := e.cloud.ListFiles(ctx, fileID)
	if err != nil {
		return nil, err
	}

	// An unscoped listing may hand us transfers saved outside this
	// instance's folder; refuse to plan those.
	if topLevel && e.cfg.InstanceFolderID != 0 && listing.Parent.ParentID != e.cfg.InstanceFolderID {
		return nil, fmt.Errorf("file %d is outside instance folder %d", fileID, e.cfg.InstanceFolderID)
	}

	to, err := fileutil.SafeJoin(base, listing.Parent.Name)
	if err != nil {
		return nil, err
	}

	switch {
	case listing.Parent.IsFolder():
		if e.skipDirectory(listing.Parent.Name) {
			return nil, nil
		}

		var children []transfer.DownloadTarget
		for _, child := range listing.Files {
			childTargets, err := e.recurseTargets(ctx, child.ID, hash, to, false)
			if err != nil {
				return nil, err
			}
			children = append(children, childTargets...)
		}

		// A folder with nothing downloadable underneath yields no targets.
		if len(children) == 0 {
			return nil, nil
		}

		targets := make([]transfer.DownloadTarget, 0, len(children)+1)
		targets = append(targets, transfer.DownloadTarget{
			To:           to,
			Kind:         transfer.TargetDirectory,
			TopLevel:     topLevel,
			TransferHash: hash,
		})
		return append(targets, children...), nil

	case listing.Parent.IsVideo() || isSubtitle(listing.Parent.Name):
		url, err := e.cloud.GetFileURL(ctx, listing.Parent.ID)
		if err != nil {
			return nil, err
		}
		return []transfer.DownloadTarget{{
			To:           to,
			From:         url,
			Kind:         transfer.TargetFile,
			TopLevel:     topLevel,
			TransferHash: hash,
		}}, nil

	default:
		return nil, nil
	}
}

// skipDirectory reports whether name matches the configured skip list.
// Case-insensitive.
func (e *Engine) skipDirectory(name string) bool {
	for _, skip := range e.cfg.SkipDirectories {
		if strings.EqualFold(name, skip) {
			return true
		}
	}
	return false
}

// isSubtitle reports whether name has a recognized subtitle extension.
func isSubtitle(name string) bool {
	return subtitleExtensions[strings.ToLower(filepath.Ext(name))]
}
