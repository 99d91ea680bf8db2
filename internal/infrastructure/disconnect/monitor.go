// Package disconnect implements the background liveness probe every
// in-flight request gets (spec §4.4).
package disconnect

import (
	"sync"
	"time"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// pollInterval is the probe cadence (spec §4.4: "≈300 ms").
const pollInterval = 300 * time.Millisecond

// Monitor implements service.DisconnectMonitor against an
// entity.LivenessHandle. One Monitor is created per RequestEnvelope at
// enqueue time and cancelled once that envelope's future resolves.
type Monitor struct {
	liveness entity.LivenessHandle

	once         sync.Once
	disconnected chan struct{}
	stop         chan struct{}
}

// New returns a Monitor watching liveness. Call Start to begin
// probing.
func New(liveness entity.LivenessHandle) *Monitor {
	return &Monitor{
		liveness:     liveness,
		disconnected: make(chan struct{}),
		stop:         make(chan struct{}),
	}
}

// Start begins the background probe goroutine. Must be called at most
// once.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.liveness.Done():
			m.fire()
			return
		case <-ticker.C:
			if !m.liveness.Alive() {
				m.fire()
				return
			}
		}
	}
}

func (m *Monitor) fire() {
	m.once.Do(func() {
		close(m.disconnected)
	})
}

// Check implements service.DisconnectChecker (the per-stage checkpoint,
// spec §4.4 "Checkpoint discipline").
func (m *Monitor) Check(stage string) error {
	select {
	case <-m.disconnected:
		return domainerrors.Wrap(domainerrors.KindClientDisconnected, stage, "client disconnected", entity.ErrClientDisconnected)
	default:
		return nil
	}
}

// Disconnected implements service.DisconnectChecker.
func (m *Monitor) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Cancel stops the probe. Per spec §4.4 ("must swallow cancellation
// silently"), Cancel never blocks and the probe goroutine simply
// returns on the next select tick without reporting anything.
func (m *Monitor) Cancel() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
