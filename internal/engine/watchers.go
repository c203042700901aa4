package engine

import (
	"context"
	"time"

	"github.com/putreap/putreap/internal/arr"
	"github.com/putreap/putreap/internal/fileutil"
	"github.com/putreap/putreap/internal/putio"
	"github.com/putreap/putreap/internal/transfer"
)

// watchImport polls the Arr histories until every file target of t has been
// imported, then deletes the local artifact and re-enters the state machine.
// There is no ceiling: a transfer no Arr service ever imports is watched
// until shutdown.
func (e *Engine) watchImport(ctx context.Context, t *transfer.Transfer) error {
	e.logger.Info().Stringer("transfer", t).Msg("watching imports")

	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.allImported(ctx, t) {
				continue
			}

			e.logger.Info().Stringer("transfer", t).Msg("imported")

			// The Arr service copied what it wanted; the downloaded
			// artifact is no longer needed.
			if top := t.TopLevel(); top != nil {
				if err := fileutil.RemoveArtifact(top.To); err != nil {
					e.logger.Warn().Err(err).Str("path", top.To).Msg("failed to delete local artifact")
				} else {
					e.logger.Info().Str("path", top.To).Msg("local artifact deleted")
				}
			}

			e.metrics.TransfersImported.Inc()
			if !e.emit(ctx, transfer.Event{Type: transfer.Imported, Transfer: t}) {
				return ctx.Err()
			}
			return nil
		}
	}
}

// allImported reports whether every file target of t is recorded as imported
// by at least one configured Arr service. The first service to report a
// target wins; services that cannot be queried are skipped.
func (e *Engine) allImported(ctx context.Context, t *transfer.Transfer) bool {
	fileTargets := t.FileTargets()
	if len(fileTargets) == 0 || len(e.arrs) == 0 {
		return false
	}

	for i := range fileTargets {
		target := &fileTargets[i]

		imported := false
		for _, svc := range e.arrs {
			ok, err := svc.HasImported(ctx, target.To)
			if err != nil {
				if arr.IsUnreachable(err) {
					e.logger.Debug().Err(err).Str("service", svc.Name()).Msg("import check skipped, service unreachable")
				} else {
					e.logger.Warn().Err(err).Str("service", svc.Name()).Msg("import check failed")
				}
				continue
			}
			if ok {
				e.logger.Info().
					Stringer("target", target).
					Str("service", svc.Name()).
					Msg("found imported")
				imported = true
				break
			}
		}

		if !imported {
			return false
		}
	}

	return true
}

// watchSeeding polls the remote transfer until it stops seeding, then
// removes the transfer and its file tree from put.io. Both cleanups are
// best-effort; put.io reporting 404 counts as done.
func (e *Engine) watchSeeding(ctx context.Context, t *transfer.Transfer) error {
	e.logger.Info().Stringer("transfer", t).Msg("watching seeding")

	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remote, err := e.cloud.GetTransfer(ctx, t.ID)
			if err != nil {
				e.logger.Warn().Err(err).Stringer("transfer", t).Msg("failed to get transfer status")
				continue
			}

			if remote.StatusIs(putio.StatusSeeding) {
				continue
			}

			e.logger.Info().Stringer("transfer", t).Str("status", remote.Status).Msg("stopped seeding")

			if err := e.cloud.RemoveTransfer(ctx, t.ID); err != nil {
				e.logger.Warn().Err(err).Stringer("transfer", t).Msg("failed to remove transfer")
			} else {
				e.logger.Info().Stringer("transfer", t).Msg("removed from put.io")
			}

			if t.FileID != nil {
				if err := e.cloud.DeleteFile(ctx, *t.FileID); err != nil {
					e.logger.Warn().Err(err).Stringer("transfer", t).Msg("failed to delete remote files")
				} else {
					e.logger.Info().Stringer("transfer", t).Msg("remote files deleted")
				}
			}

			e.metrics.SeedsReaped.Inc()
			e.logger.Info().Stringer("transfer", t).Msg("done")
			return nil
		}
	}
}
