package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// cleanupConcurrency bounds how many containers are swept in parallel.
const cleanupConcurrency = 4

// Cleanup removes every sandbox-labeled container the runtime reports,
// including ones created by a previous process. Failures are collected
// per item; the sweep never aborts early.
func (m *Manager) Cleanup(ctx context.Context, force bool) (CleanupReport, error) {
	callCtx, cancel := m.runtimeCtx(ctx)
	infos, err := m.rt.List(callCtx, ManagedLabels)
	cancel()
	if err != nil {
		return CleanupReport{}, opErr("cleanup", "", err)
	}

	var (
		mu     sync.Mutex
		report CleanupReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, info := range infos {
		rec := m.adopt(info)
		g.Go(func() error {
			err := m.Remove(gctx, rec.ID, force)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Removed = append(report.Removed, CleanupItem{Name: rec.Name})
			case errors.Is(err, ErrNotFound):
				// Already gone; count it as removed.
				report.Removed = append(report.Removed, CleanupItem{Name: rec.Name})
			default:
				report.Failed = append(report.Failed, CleanupItem{Name: rec.Name, Error: err.Error()})
			}
			return nil
		})
	}
	g.Wait()

	log.Printf("[session] cleanup: removed=%d failed=%d force=%v",
		len(report.Removed), len(report.Failed), force)
	return report, nil
}
