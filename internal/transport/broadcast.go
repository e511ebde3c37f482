package transport

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxFanOut bounds concurrent sends during a broadcast.
const maxFanOut = 8

// fanOut sends to every peer concurrently and collects a report. Individual
// failures never cancel the remaining sends.
func fanOut(ctx context.Context, peers []string, send func(ctx context.Context, peer string) error) (*BroadcastReport, error) {
	report := &BroadcastReport{Failed: map[string]error{}}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(maxFanOut)

	for _, peer := range peers {
		g.Go(func() error {
			err := send(ctx, peer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[peer] = err
			} else {
				report.Delivered = append(report.Delivered, peer)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Delivered)
	if len(report.Failed) > 0 {
		return report, &PartialBroadcastError{Report: report}
	}
	return report, nil
}
