package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
)

const (
	// DefaultGCThreshold is how long a deleted instance's log is kept.
	DefaultGCThreshold = 7 * 24 * time.Hour
	DefaultGCInterval  = time.Hour
)

// InstanceLister is satisfied by the store.
type InstanceLister interface {
	ListInstances() ([]domain.Instance, error)
}

// GarbageCollector removes log files left behind by deleted instances once
// they are older than the threshold.
type GarbageCollector struct {
	store     InstanceLister
	logsDir   string
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
	now       func() time.Time
}

func NewGarbageCollector(
	store InstanceLister,
	logsDir string,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *GarbageCollector {
	if threshold <= 0 {
		threshold = DefaultGCThreshold
	}
	if interval <= 0 {
		interval = DefaultGCInterval
	}

	return &GarbageCollector{
		store:     store,
		logsDir:   logsDir,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs a collection immediately, then periodically.
func (gc *GarbageCollector) Start(ctx context.Context) error {
	if _, err := gc.Collect(ctx); err != nil {
		gc.logger.Warn("initial garbage collection failed",
			logger.Error(err))
	}

	ticker := time.NewTicker(gc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := gc.Collect(ctx); err != nil {
					gc.logger.Error("garbage collection failed",
						logger.Error(err))
				}
			case <-gc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (gc *GarbageCollector) Stop() {
	close(gc.stopCh)
}

// Collect removes orphaned logs and reports how many went.
func (gc *GarbageCollector) Collect(ctx context.Context) (int, error) {
	instances, err := gc.store.ListInstances()
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(instances))
	for _, inst := range instances {
		known[inst.ID] = true
	}

	entries, err := os.ReadDir(gc.logsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := gc.now().Add(-gc.threshold)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		id, ok := strings.CutSuffix(e.Name(), ".log")
		if !ok || e.IsDir() || known[id] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(gc.logsDir, e.Name())); err != nil {
			gc.logger.Warn("failed to remove orphaned log", logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		gc.logger.Info("garbage collection completed",
			logger.Int("removed", removed))
	}
	return removed, nil
}
