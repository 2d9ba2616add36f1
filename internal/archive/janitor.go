package archive

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically deletes archived runs older than the retention window.
type Janitor struct {
	archiver  *LocalArchiver
	retention time.Duration
	interval  time.Duration
}

// CycleStats tracks what happened in a single sweep.
type CycleStats struct {
	Scanned int
	Purged  int
	Errors  []error
}

// NewJanitor creates a janitor. Intervals below a minute are raised to an hour.
func NewJanitor(a *LocalArchiver, retention, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{archiver: a, retention: retention, interval: interval}
}

// Start runs sweeps until ctx is canceled. It blocks.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Str("path", j.archiver.BasePath()).
		Msg("Archive janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runCycle(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Archive janitor stopped")
			return
		case <-ticker.C:
			j.runCycle(time.Now())
		}
	}
}

func (j *Janitor) runCycle(now time.Time) {
	start := time.Now()
	stats := j.Sweep(now)
	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Archive sweep error")
	}
	if stats.Purged > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("purged", stats.Purged).
			Dur("elapsed", time.Since(start)).
			Msg("Archive sweep complete")
	}
}

// Sweep removes archive files last modified before now minus retention.
// A non-positive retention keeps everything.
func (j *Janitor) Sweep(now time.Time) CycleStats {
	var stats CycleStats
	if j.retention <= 0 {
		return stats
	}
	cutoff := now.Add(-j.retention)

	err := filepath.WalkDir(j.archiver.BasePath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !os.IsNotExist(err) {
				stats.Errors = append(stats.Errors, err)
			}
			return nil
		}
		if d.IsDir() || !isArchiveFile(d.Name()) {
			return nil
		}
		stats.Scanned++
		info, err := d.Info()
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				stats.Errors = append(stats.Errors, err)
				return nil
			}
			stats.Purged++
		}
		return nil
	})
	if err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	return stats
}

func isArchiveFile(name string) bool {
	return !strings.HasPrefix(name, ".") &&
		(strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz"))
}
