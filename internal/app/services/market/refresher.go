package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/marketpulse/internal/app/metrics"
	"github.com/R3E-Network/marketpulse/internal/app/system"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

const defaultRefreshTimeout = 30 * time.Second

// Refresher keeps the gainers cache warm on a cron schedule so request
// handlers rarely wait on the upstream API.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher validates schedule (standard five-field cron or a descriptor
// such as "@every 4m") and returns a stopped refresher.
func NewRefresher(service *Service, schedule string, log *logger.Logger) (*Refresher, error) {
	if service == nil {
		return nil, fmt.Errorf("market service is required")
	}
	schedule = strings.TrimSpace(schedule)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("market-refresher")
	}
	return &Refresher{
		service:  service,
		log:      log,
		schedule: schedule,
		timeout:  defaultRefreshTimeout,
	}, nil
}

func (r *Refresher) Name() string { return "market-refresher" }

// Start warms the cache once in the background and then schedules refreshes.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(r.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(r.log)),
	))
	if _, err := c.AddFunc(r.schedule, func() { r.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule refresh: %w", err)
	}

	r.cron = c
	r.cancel = cancel
	r.running = true
	c.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.tick(runCtx)
	}()

	r.log.WithField("schedule", r.schedule).Info("market refresher started")
	return nil
}

// Stop cancels in-flight refreshes and waits for them to return, or for ctx
// to expire.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.running = false
	r.mu.Unlock()

	cancel()
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-cronDone.Done()
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("market refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.service.Refresh(ctx)
	metrics.RecordRefresh(err == nil)
	if err != nil {
		r.log.WithError(err).Warn("market refresh failed")
		return
	}
	r.log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("market refresh completed")
}
