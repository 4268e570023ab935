package routing

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// Reporter keeps one worker registered with the authority. It registers on
// start, pushes metrics on every tick and unregisters on shutdown. Each
// report carries the round trip time of the previous one as LatencyMs.
type Reporter struct {
	client   *Client
	info     ServerInfo
	metrics  func() Metrics
	interval time.Duration
	clock    quartz.Clock
	logger   *log.Logger

	registered bool
	latency    time.Duration
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

func WithReporterClock(clock quartz.Clock) ReporterOption {
	return func(r *Reporter) { r.clock = clock }
}

func WithReporterLogger(logger *log.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = logger }
}

// NewReporter creates a reporter for info. metrics is called on every tick;
// nil sends bare heartbeats.
func NewReporter(client *Client, info ServerInfo, interval time.Duration, metrics func() Metrics, opts ...ReporterOption) *Reporter {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	r := &Reporter{
		client:   client,
		info:     info,
		metrics:  metrics,
		interval: interval,
		clock:    quartz.NewReal(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithPrefix("reporter").With("server_id", info.ID)
	return r
}

// Run reports until ctx is cancelled. Failures are logged and retried on the
// next tick.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval, "reporter", "tick")
	defer ticker.Stop()

	r.report(ctx)
	for {
		select {
		case <-ctx.Done():
			r.unregister()
			return nil
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	if !r.registered {
		r.register(ctx)
		return
	}

	var err error
	start := r.clock.Now()
	if r.metrics != nil {
		err = r.client.UpdateMetrics(ctx, r.info.ID, r.currentMetrics())
	} else {
		err = r.client.Heartbeat(ctx, r.info.ID)
	}
	switch {
	case err == nil:
		r.latency = r.clock.Since(start)
	case errors.Is(err, ErrServerNotFound):
		r.logger.Warn("Authority forgot this server, registering again")
		r.registered = false
		r.register(ctx)
	case ctx.Err() == nil:
		r.logger.Warn("Failed to report load", "error", err)
	}
}

func (r *Reporter) register(ctx context.Context) {
	info := r.info
	if r.metrics != nil {
		info.Metrics = r.currentMetrics()
	}
	start := r.clock.Now()
	_, err := r.client.Register(ctx, info)
	if errors.Is(err, ErrDuplicateServer) {
		// A previous incarnation that has not been swept yet.
		err = r.client.Unregister(ctx, info.ID)
		if err == nil {
			_, err = r.client.Register(ctx, info)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Failed to register with authority", "error", err)
		}
		return
	}
	r.registered = true
	r.latency = r.clock.Since(start)
	r.logger.Info("Registered with authority", "address", info.Address, "latency", r.latency)
}

func (r *Reporter) currentMetrics() Metrics {
	m := r.metrics()
	m.LatencyMs = float64(r.latency) / float64(time.Millisecond)
	return m
}

func (r *Reporter) unregister() {
	if !r.registered {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Unregister(ctx, r.info.ID); err != nil {
		r.logger.Warn("Failed to unregister", "error", err)
		return
	}
	r.registered = false
	r.logger.Info("Unregistered from authority")
}
