package consensus

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// ManualOracle is advanced by an operator through the admin API. It is the
// default backend for single-node and test deployments.
type ManualOracle struct {
	mu     sync.Mutex
	height atomic.Uint64
	epoch  atomic.Uint64
}

// NewManualOracle creates an oracle starting at height and epoch.
func NewManualOracle(height, epoch uint64) *ManualOracle {
	o := &ManualOracle{}
	o.height.Store(height)
	o.epoch.Store(epoch)
	return o
}

// LatestHeight implements Oracle.
func (o *ManualOracle) LatestHeight(_ context.Context) (uint64, error) {
	return o.height.Load(), nil
}

// CurrentEpoch implements Oracle.
func (o *ManualOracle) CurrentEpoch(_ context.Context) (uint64, error) {
	return o.epoch.Load(), nil
}

// Advance moves the oracle forward. Both values are updated together or not at all.
func (o *ManualOracle) Advance(height, epoch uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if height < o.height.Load() || epoch < o.epoch.Load() {
		return ErrRegression
	}

	o.epoch.Store(epoch)
	o.height.Store(height)
	return nil
}
