package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Event is an imported-commit notification delivered to subscribers.
type Event struct {
	Pod     string `json:"pod"`
	Version string `json:"version"`
	SHA     string `json:"sha"`
}

// FanoutConfig controls subscriber notification.
type FanoutConfig struct {
	Subscribers []string      // HTTP endpoints notified per imported commit.
	QueueSize   int           // Bounded queue depth. Default 256.
	Workers     int           // Delivery goroutines. Default 2.
	Timeout     time.Duration // Per-subscriber delivery timeout. Default 5s.
}

// DefaultFanoutConfig returns the default fanout configuration.
func DefaultFanoutConfig() *FanoutConfig {
	return &FanoutConfig{
		QueueSize: 256,
		Workers:   2,
		Timeout:   5 * time.Second,
	}
}

// FanoutConfigFromEnv loads config from environment variables.
// TRUNK_FANOUT_SUBSCRIBERS (comma-separated), TRUNK_FANOUT_QUEUE_SIZE,
// TRUNK_FANOUT_WORKERS, TRUNK_FANOUT_TIMEOUT_SECONDS
func FanoutConfigFromEnv() *FanoutConfig {
	cfg := DefaultFanoutConfig()
	if v := os.Getenv("TRUNK_FANOUT_SUBSCRIBERS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Subscribers = append(cfg.Subscribers, s)
			}
		}
	}
	if v := os.Getenv("TRUNK_FANOUT_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("TRUNK_FANOUT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("TRUNK_FANOUT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// Fanout delivers imported-commit events to subscriber endpoints through a
// bounded in-process queue. Delivery is best effort and never blocks the
// import flow: a full queue drops the event with a log line, and each
// subscriber gets its own timeout.
type Fanout struct {
	cfg    *FanoutConfig
	queue  chan Event
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewFanout creates a fanout. Run must be called for events to flow.
func NewFanout(cfg *FanoutConfig, logger *slog.Logger) *Fanout {
	if cfg == nil {
		cfg = DefaultFanoutConfig()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Notify enqueues an event, dropping it when the queue is full.
func (f *Fanout) Notify(event Event) {
	select {
	case f.queue <- event:
	default:
		f.logger.Warn("fanout queue full, dropping event",
			"pod", event.Pod, "version", event.Version)
	}
}

// Run starts the delivery workers and blocks until the context is
// cancelled, then waits for in-flight deliveries to finish.
func (f *Fanout) Run(ctx context.Context) {
	if len(f.cfg.Subscribers) == 0 {
		f.logger.Info("fanout disabled, no subscribers configured")
		return
	}
	f.logger.Info("fanout starting",
		"subscribers", len(f.cfg.Subscribers),
		"workers", f.cfg.Workers,
		"queueSize", f.cfg.QueueSize)

	for w := 0; w < f.cfg.Workers; w++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.workerLoop(ctx)
		}()
	}

	<-ctx.Done()
	f.wg.Wait()
	f.logger.Info("fanout stopped")
}

func (f *Fanout) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.queue:
			f.deliver(ctx, event)
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	for _, subscriber := range f.cfg.Subscribers {
		deliveryCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		req, err := http.NewRequestWithContext(deliveryCtx, http.MethodPost, subscriber, bytes.NewReader(payload))
		if err != nil {
			cancel()
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("fanout delivery failed", "subscriber", subscriber, "error", err)
			cancel()
			continue
		}
		resp.Body.Close()
		cancel()
	}
}
