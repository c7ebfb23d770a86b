package transcode

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPurgeInterval = 5 * time.Minute

// Janitor periodically purges expired HLS output under a root directory.
type Janitor struct {
	root     string
	age      time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onPurge  func(files int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor for root. onPurge, if set, receives the number of
// files removed by each pass.
func NewJanitor(root string, age, interval time.Duration, logger *zap.Logger, onPurge func(int)) *Janitor {
	if age <= 0 {
		age = DefaultRetention
	}
	if interval <= 0 {
		interval = defaultPurgeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{root: root, age: age, interval: interval, logger: logger, now: time.Now, onPurge: onPurge}
}

// Start begins the purge loop. Call Stop() to release resources.
func (j *Janitor) Start() {
	j.mu.Lock()
	if j.cancel != nil {
		j.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	done := j.done
	j.mu.Unlock()

	go j.run(ctx, done)
	j.logger.Info("hls janitor started", zap.String("root", j.root), zap.Duration("interval", j.interval), zap.Duration("retention", j.age))
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.cancel = nil
	<-j.done
	j.logger.Info("hls janitor stopped")
}

// RunOnce performs a single purge pass. Errors are logged, never returned.
func (j *Janitor) RunOnce() int {
	n, err := PurgeOlderThan(j.root, j.age, j.now())
	if err != nil {
		j.logger.Warn("hls purge incomplete", zap.String("root", j.root), zap.Error(err))
	}
	if n > 0 {
		j.logger.Info("hls purge", zap.Int("files", n))
	}
	if j.onPurge != nil {
		j.onPurge(n)
	}
	return n
}

func (j *Janitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}
