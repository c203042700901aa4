package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/putreap/putreap/internal/transfer"
)

// reconcile classifies transfers that already exist on put.io at boot.
// A transfer whose every file target was imported while we were away is
// marked seen and re-enters the state machine at the seed watch; anything
// else is left unseen for the poller to claim. Nothing is downloaded here.
//
// Transfers are classified concurrently; each needs a file tree walk plus
// one history probe per target.
func (e *Engine) reconcile(ctx context.Context) {
	e.logger.Info().Msg("checking existing transfers")

	transfers, err := e.cloud.ListTransfers(ctx, e.listOptions())
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list transfers for reconciliation")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.OrchestrationWorkers)

	for i := range transfers {
		remote := &transfers[i]
		if !remote.Downloadable() {
			continue
		}

		g.Go(func() error {
			t := transfer.New(remote)

			plan, err := e.planTargets(gctx, t)
			if err != nil {
				e.logger.Warn().Err(err).Stringer("transfer", t).Msg("could not plan existing transfer")
				return nil //nolint:nilerr // a single unplannable transfer must not stop the rest
			}
			t.SetTargets(plan)

			if !e.allImported(gctx, t) {
				e.logger.Debug().Stringer("transfer", t).Msg("not imported yet")
				return nil
			}

			e.logger.Info().Stringer("transfer", t).Msg("already imported")
			e.seen.Add(t.ID)
			e.emit(gctx, transfer.Event{Type: transfer.Imported, Transfer: t})
			return nil
		})
	}

	_ = g.Wait()

	e.logger.Info().Msg("done checking existing transfers")
}
