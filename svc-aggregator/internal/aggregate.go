package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mt "github.com/etesami/traffic-counting-system/pkg/metric"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/store"
	"github.com/etesami/traffic-counting-system/pkg/utils"
)

var DefaultExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".m4v"}

type Config struct {
	InboxDir  string
	OutputDir string
	DoneDir   string
	FailedDir string

	QueueSize    int
	Workers      int
	PollInterval time.Duration
	// Settle is how long a file must stay unmodified before it is queued, so that
	// files still being copied into the inbox are skipped.
	Settle     time.Duration
	Extensions []string
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
}

type VideoProcessor interface {
	ProcessVideo(ctx context.Context, inputPath, outputPath string) (*pipeline.Result, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, r *store.Run) error
}

// Aggregator picks up videos dropped into an inbox directory and counts them with a
// pool of workers. Processed inputs are moved to DoneDir, failed ones to FailedDir.
type Aggregator struct {
	cfg       Config
	processor VideoProcessor
	runs      RunRecorder
	metric    *mt.Metric
	logger    *slog.Logger

	queued sync.Map // inbox path -> struct{}
	queue  chan string
	now    func() time.Time
}

func New(cfg Config, processor VideoProcessor, runs RunRecorder, m *mt.Metric, logger *slog.Logger) (*Aggregator, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.InboxDir, cfg.OutputDir, cfg.DoneDir, cfg.FailedDir} {
		if dir == "" {
			return nil, fmt.Errorf("inbox, output, done and failed directories must be set")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Aggregator{
		cfg:       cfg,
		processor: processor,
		runs:      runs,
		metric:    m,
		logger:    logger,
		queue:     make(chan string, cfg.QueueSize),
		now:       time.Now,
	}, nil
}

// Run scans the inbox every PollInterval and feeds the workers until ctx is done.
// Videos in progress when ctx is done are finished; queued ones stay in the inbox.
func (a *Aggregator) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for path := range a.queue {
				a.metric.SetQueueLength(len(a.queue))
				if ctx.Err() != nil {
					a.queued.Delete(path)
					continue
				}
				a.handle(work, path)
			}
			a.logger.Debug("worker stopped", "worker", id)
		}(i)
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := a.Scan(); err != nil {
			a.logger.Error("error scanning inbox", "dir", a.cfg.InboxDir, "err", err)
		}
		select {
		case <-ctx.Done():
			close(a.queue)
			wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Scan queues every settled video in the inbox that is not queued yet and returns how
// many were added. Files that do not fit into the queue are picked up by a later scan.
func (a *Aggregator) Scan() (int, error) {
	entries, err := os.ReadDir(a.cfg.InboxDir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	added := 0
	for _, e := range entries {
		if e.IsDir() || !a.isVideo(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if a.now().Sub(info.ModTime()) < a.cfg.Settle {
			continue
		}
		path := filepath.Join(a.cfg.InboxDir, e.Name())
		if _, loaded := a.queued.LoadOrStore(path, struct{}{}); loaded {
			continue
		}
		select {
		case a.queue <- path:
			added++
			a.logger.Info("queued video", "path", path)
		default:
			a.queued.Delete(path)
			a.metric.SetQueueLength(len(a.queue))
			return added, nil
		}
	}
	a.metric.SetQueueLength(len(a.queue))
	return added, nil
}

func (a *Aggregator) isVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range a.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (a *Aggregator) handle(ctx context.Context, path string) {
	defer a.queued.Delete(path)

	name := filepath.Base(path)
	outputName := utils.OutputFilename(name)
	res, err := a.processor.ProcessVideo(ctx, path, filepath.Join(a.cfg.OutputDir, outputName))
	if errors.Is(err, pipeline.ErrEngineUnavailable) {
		// left in the inbox; the next scan queues it again
		a.logger.Warn("detector unavailable, video stays in inbox", "path", path, "err", err)
		a.metric.AddIngested("retry")
		return
	}
	if err != nil {
		a.logger.Error("error processing video", "path", path, "err", err)
		a.metric.AddIngested("failed")
		a.move(path, a.cfg.FailedDir)
		return
	}

	run := store.NewRun(name, outputName, res)
	if a.runs != nil {
		if err := a.runs.RecordRun(ctx, run); err != nil {
			a.logger.Warn("error recording run", "source", name, "err", err)
		}
	}
	a.metric.AddIngested("done")
	a.move(path, a.cfg.DoneDir)
	a.logger.Info("video processed", "source", name, "output", outputName, "total", run.Total, "level", run.Level)
}

// move renames path into dir, suffixing the name when dir already holds one.
func (a *Aggregator) move(path, dir string) {
	dst := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dst, ext), a.now().UnixNano(), ext)
	}
	if err := os.Rename(path, dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Error("error moving video", "from", path, "to", dst, "err", err)
	}
}
