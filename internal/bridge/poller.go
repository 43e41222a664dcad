package bridge

import (
	"context"
	"time"

	"github.com/gwm-community/vehicle-cloud/internal/log"
)

// Poller periodically reads the vehicle status and pushes snapshots to a Publisher.
type Poller struct {
	car      Controller
	pub      Publisher
	interval time.Duration
}

// NewPoller creates a Poller. Intervals below MinPollInterval are raised to it.
func NewPoller(car Controller, pub Publisher, interval time.Duration) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return &Poller{car: car, pub: pub, interval: interval}
}

// Run polls until ctx is cancelled. The first poll happens immediately. A failed poll that
// still yields a cached snapshot publishes that snapshot, so Home Assistant keeps showing
// last-known state during cloud outages.
func (p *Poller) Run(ctx context.Context) {
	log.Info("bridge: polling status every %s", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	status, err := p.car.GetStatus(ctx)
	if err != nil {
		log.Warning("bridge: status poll failed: %s", err)
	}
	if status != nil {
		p.pub.PublishStatus(status)
	}
}
