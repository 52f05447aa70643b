// Package obsprocess contains the logic to poll a snapshot source once per
// simulation step and deliver the extracted observations to a sink.
package obsprocess

import (
	"context"
	"math"
	"time"

	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/navsim-modules/navsim-observer/scene"
)

// Extractor converts a scene snapshot into an observation dictionary.
type Extractor interface {
	Extract(ctx context.Context, snap *scene.Snapshot) (map[string]*mat.Dense, error)
}

// SnapshotSource produces the next scene snapshot together with the
// simulation time it was captured at, blocking until the host has stepped.
type SnapshotSource interface {
	NextSnapshot(ctx context.Context) (*scene.Snapshot, time.Time, error)
}

// Config holds config needed throughout the process of extracting
// observations from snapshots.
type Config struct {
	Source    SnapshotSource
	Extractor Extractor
	Logger    logging.Logger

	// DataFrequencyHz paces the loop; zero runs it unpaced.
	DataFrequencyHz int

	// Sink receives every successfully extracted observation dictionary.
	Sink func(readingTime time.Time, observations map[string]*mat.Dense)
}

// StartExtraction polls the snapshot source to get the next snapshot and
// runs the extractor over it. Stops when the context is Done.
func (config *Config) StartExtraction(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := config.extractObservations(ctx); err != nil {
				config.Logger.Warn(err)
			}
		}
	}
}

// extractObservations gets the next snapshot, extracts observations from it
// and sleeps the remainder of the step interval.
func (config *Config) extractObservations(ctx context.Context) error {
	snap, readingTime, err := config.Source.NextSnapshot(ctx)
	if err != nil {
		return err
	}

	timeToSleep := config.tryExtractOnce(ctx, snap, readingTime)
	time.Sleep(time.Duration(timeToSleep) * time.Millisecond)
	config.Logger.Debugf("observation sleep for %vms", timeToSleep)
	return nil
}

// tryExtractOnce extracts observations and delivers them to the sink; a
// failing step is skipped, not retried. Returns remainder of time interval.
func (config *Config) tryExtractOnce(ctx context.Context, snap *scene.Snapshot, readingTime time.Time) int {
	startTime := time.Now().UTC()

	observations, err := config.Extractor.Extract(ctx, snap)
	if err != nil {
		config.Logger.Warnw("Skipping observation step due to error from battery", "error", err)
	} else if config.Sink != nil {
		config.Sink(readingTime, observations)
	}

	// A non-positive frequency means free-running extraction, no pacing sleep.
	if config.DataFrequencyHz <= 0 {
		return 0
	}
	timeElapsedMs := int(time.Since(startTime).Milliseconds())
	return int(math.Max(0, float64(1000/config.DataFrequencyHz-timeElapsedMs)))
}
