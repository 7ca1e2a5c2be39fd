// Package feed turns periodic feed fetches into snapshots and hands them to
// the configured sinks.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/metrics"
	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// SnapshotSaver persists snapshots. *db.SnapshotRepository implements it.
type SnapshotSaver interface {
	Save(ctx context.Context, s *snapshot.Snapshot) error
}

// Refresher fetches the feed and publishes each result as a snapshot.
// Store, Archive and Repo are optional sinks.
type Refresher struct {
	Source          adsb.DataSource
	BBox            adsb.BoundingBox
	IncludeOnGround bool
	Retry           adsb.RetryConfig

	Store       *snapshot.Store
	Archive     *snapshot.Archive
	ArchiveKeep int
	Repo        SnapshotSaver

	Log *logrus.Logger

	// Now defaults to time.Now
	Now func() time.Time

	updates int
}

// Refresh performs one fetch. Sink failures are logged and do not fail the
// refresh; the snapshot is still published to the store.
func (r *Refresher) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	retry := r.Retry
	if retry.Logger == nil {
		retry.Logger = log
	}

	source := r.Source.Name()
	start := time.Now()
	states, err := adsb.RetryWithBackoffResult(ctx, retry, func() ([]adsb.StateVector, error) {
		return r.Source.FetchStates(ctx, r.BBox)
	})
	metrics.FeedFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedFetchesTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("failed to fetch %s states: %w", source, err)
	}
	metrics.FeedFetchesTotal.WithLabelValues(source, "ok").Inc()

	nodes := adsb.ToNodes(states, r.IncludeOnGround)
	snap := snapshot.New(source, r.BBox, nodes, now())
	r.updates++

	entry := log.WithFields(logrus.Fields{
		"snapshot": snap.ID,
		"source":   source,
		"states":   len(states),
		"nodes":    len(nodes),
		"update":   r.updates,
	})

	if r.Store != nil {
		r.Store.Set(snap)
	}
	metrics.ObserveSnapshot(len(nodes), snap.FetchedAt)

	if r.Archive != nil {
		path, err := r.Archive.Save(snap)
		if err != nil {
			entry.WithError(err).Error("Failed to archive snapshot")
		} else {
			entry = entry.WithField("archive", path)
			if removed, err := r.Archive.Prune(r.ArchiveKeep); err != nil {
				entry.WithError(err).Warn("Failed to prune archive")
			} else if removed > 0 {
				entry = entry.WithField("pruned", removed)
			}
		}
	}

	if r.Repo != nil {
		if err := r.Repo.Save(ctx, snap); err != nil {
			entry.WithError(err).Error("Failed to store snapshot")
		}
	}

	entry.Info("Snapshot refreshed")
	return snap, nil
}

// Updates returns the number of successful refreshes.
func (r *Refresher) Updates() int {
	return r.updates
}

// Run refreshes immediately and then every interval until ctx is done.
// Failed refreshes are logged and retried on the next tick. onRefresh, when
// set, is called after each successful refresh.
func (r *Refresher) Run(ctx context.Context, interval time.Duration, onRefresh func(*snapshot.Snapshot)) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	tick := func() {
		snap, err := r.Refresh(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("Refresh failed, will retry next cycle")
			}
			return
		}
		if onRefresh != nil {
			onRefresh(snap)
		}
	}

	tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
