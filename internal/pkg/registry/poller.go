package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/korovkin/limiter"
	"golang.org/x/sync/singleflight"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

const (
	// Poll period for device status
	DefaultPollInterval = time.Second * 30

	defaultPollWorkers = 8
)

// Poller drives the periodic status cycle and the out-of-band refresh
// path.  Cycles never overlap: each one runs to completion on the loop
// goroutine while the ticker reschedules independently.  Per-device
// fetches inside a cycle are independent failure domains.
type Poller struct {
	api      cubeapi.CubeAPI
	registry *Registry
	interval time.Duration
	workers  int

	// coalesces concurrent fetches for the same device id
	fetches singleflight.Group

	stop chan struct{}
	done chan struct{}
}

func NewPoller(api cubeapi.CubeAPI, reg *Registry) *Poller {
	return &Poller{
		api:      api,
		registry: reg,
		interval: DefaultPollInterval,
		workers:  defaultPollWorkers,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Poller) WithWorkers(n int) *Poller {
	if n > 0 {
		p.workers = n
	}
	return p
}

// Start launches the poll loop.  Stop() tears it down.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logging.Logger(ctx).Infof("status poller started, period %s", p.interval)

	for {
		select {
		case <-p.stop:
			logging.Logger(ctx).Info("status poller shutting down")
			return
		case <-ctx.Done():
			logging.Logger(ctx).Info("status poller context cancelled")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle fetches status for every known device with bounded concurrency
// and applies the results.  A failed device keeps its previous snapshot;
// a cycle must never crash the timer.
func (p *Poller) cycle(ctx context.Context) {
	ids := p.registry.IDs()
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	var failed int32

	limit := limiter.NewConcurrencyLimiter(p.workers)
	for _, id := range ids {
		id := id
		limit.Execute(func() {
			if err := p.fetch(ctx, id); err != nil {
				atomic.AddInt32(&failed, 1)
				logging.Logger(ctx).WithError(err).Warnf("poll cycle: status fetch for %s failed, keeping previous snapshot", id)
			}
		})
	}
	limit.Wait()

	logging.Logger(ctx).Debugf("poll cycle: %d devices, %d failed, took %s", len(ids), atomic.LoadInt32(&failed), time.Since(start))
}

// fetch retrieves and applies the status for one device.  Concurrent
// callers for the same device id (periodic cycle, command-triggered
// refresh) share one underlying request.
func (p *Poller) fetch(ctx context.Context, deviceID string) error {
	_, err, _ := p.fetches.Do(deviceID, func() (interface{}, error) {
		status, err := p.api.DeviceStatus(ctx, deviceID)
		if err != nil {
			return nil, err
		}

		p.registry.ApplyStatus(deviceID, statusMap(status), time.Now())
		return nil, nil
	})

	return err
}

// RefreshNow requests an out-of-band status fetch for one device,
// without disturbing the periodic timer.  It does not block the caller;
// a refresh already in flight for the device absorbs the request.
func (p *Poller) RefreshNow(deviceID string) {
	go func() {
		if err := p.fetch(context.Background(), deviceID); err != nil {
			logging.Logger(nil).WithError(err).Warnf("out-of-band refresh for %s failed", deviceID)
		}
	}()
}
