package predictive

import (
	"sync/atomic"
	"time"
)

// ModelCache holds the trained models shared across prediction cycles.
// Models are swapped in whole, so a concurrent reader sees either the old or
// the new model, never a partially trained one.
type ModelCache struct {
	slots map[Metric]*modelSlot
}

type modelSlot struct {
	model    atomic.Pointer[ARModel]
	training atomic.Bool
}

// NewModelCache creates an empty cache for the signal and speed series
func NewModelCache() *ModelCache {
	return &ModelCache{slots: map[Metric]*modelSlot{
		MetricSignal: {},
		MetricSpeed:  {},
	}}
}

// Get returns the current model or nil
func (c *ModelCache) Get(metric Metric) *ARModel {
	if slot, ok := c.slots[metric]; ok {
		return slot.model.Load()
	}
	return nil
}

// Put swaps in a newly trained model
func (c *ModelCache) Put(model *ARModel) {
	if model == nil {
		return
	}
	if slot, ok := c.slots[model.Metric]; ok {
		slot.model.Store(model)
	}
}

// TryBeginTraining claims the training slot for metric. It returns false when
// another cycle is already training that metric.
func (c *ModelCache) TryBeginTraining(metric Metric) bool {
	slot, ok := c.slots[metric]
	if !ok {
		return false
	}
	return slot.training.CompareAndSwap(false, true)
}

// EndTraining releases the training slot
func (c *ModelCache) EndTraining(metric Metric) {
	if slot, ok := c.slots[metric]; ok {
		slot.training.Store(false)
	}
}

// Training reports whether metric is being trained
func (c *ModelCache) Training(metric Metric) bool {
	if slot, ok := c.slots[metric]; ok {
		return slot.training.Load()
	}
	return false
}

// LastTrained returns the most recent training time across models, nil when
// nothing has been trained yet
func (c *ModelCache) LastTrained() *time.Time {
	var latest *time.Time
	for _, slot := range c.slots {
		m := slot.model.Load()
		if m == nil {
			continue
		}
		if latest == nil || m.TrainedAt.After(*latest) {
			t := m.TrainedAt
			latest = &t
		}
	}
	return latest
}

// Metrics lists the cached series
func (c *ModelCache) Metrics() []Metric {
	return []Metric{MetricSignal, MetricSpeed}
}
