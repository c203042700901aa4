package engine

import (
	"context"
	"time"

	"github.com/putreap/putreap/internal/putio"
	"github.com/putreap/putreap/internal/transfer"
)

// summaryInterval limits how often the active-transfer summary is logged.
const summaryInterval = time.Minute

// pollLoop lists live transfers on a fixed cadence and feeds new
// downloadable ones into the event channel. Listing errors are retried on
// the next tick; the loop only exits on cancellation.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()

	e.logger.Info().Msg("monitoring transfers")

	var lastSummary time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastSummary = e.pollOnce(ctx, lastSummary)
		}
	}
}

// pollOnce runs a single tick and returns the updated summary timestamp.
func (e *Engine) pollOnce(ctx context.Context, lastSummary time.Time) time.Time {
	transfers, err := e.cloud.ListTransfers(ctx, e.listOptions())
	if err != nil {
		e.logger.Warn().Err(err).Msg("listing transfers failed, retrying next tick")
		return lastSummary
	}

	for i := range transfers {
		remote := &transfers[i]

		if e.seen.Contains(remote.ID) {
			continue
		}
		if !remote.Downloadable() {
			continue
		}

		t := transfer.New(remote)
		e.logger.Info().Stringer("transfer", t).Msg("ready for download")

		if !e.emit(ctx, transfer.Event{Type: transfer.QueuedForDownload, Transfer: t}) {
			return lastSummary
		}
		e.seen.Add(remote.ID)
		e.metrics.TransfersDiscovered.Inc()
	}

	// Release ids the remote side dropped so re-added transfers are
	// processed again.
	live := make(map[uint64]struct{}, len(transfers))
	for i := range transfers {
		live[transfers[i].ID] = struct{}{}
	}
	e.seen.Prune(live)
	e.metrics.ActiveTransfers.Set(float64(len(transfers)))

	if time.Since(lastSummary) >= summaryInterval {
		e.logger.Info().Msgf("Active transfers: %d", len(transfers))
		return time.Now()
	}
	return lastSummary
}

func (e *Engine) listOptions() putio.ListTransfersOptions {
	return putio.ListTransfersOptions{
		Source:   e.cfg.InstanceName,
		ParentID: e.cfg.InstanceFolderID,
	}
}
