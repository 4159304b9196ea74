package domain

import "time"

// Feature channel names consumed by the reference strategy. External
// collaborators may register additional channels under their own names.
const (
	FeatureSentiment = "sentiment"
	FeaturePattern   = "pattern"
)

// FeatureChannel is a named value series aligned to bars by timestamp.
// Missing timestamps are "unknown" and must be treated as neutral by
// strategies, never as a hard failure.
type FeatureChannel struct {
	Name   string
	values map[int64]float64
}

func NewFeatureChannel(name string) *FeatureChannel {
	return &FeatureChannel{Name: name, values: make(map[int64]float64)}
}

func (c *FeatureChannel) Set(ts time.Time, value float64) {
	c.values[ts.Unix()] = value
}

// At returns the channel value for the given bar timestamp. The second
// return value is false when the value is unknown.
func (c *FeatureChannel) At(ts time.Time) (float64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.values[ts.Unix()]
	return v, ok
}

func (c *FeatureChannel) Len() int { return len(c.values) }

// FeatureSet holds the feature channels for one backtest request. It is
// constructed once per request and discarded afterwards; nothing in the
// core caches feature data globally.
type FeatureSet map[string]*FeatureChannel

// Value looks up a channel value by name and bar timestamp. An absent
// channel behaves like a channel with no known values.
func (fs FeatureSet) Value(name string, ts time.Time) (float64, bool) {
	if fs == nil {
		return 0, false
	}
	return fs[name].At(ts)
}

func (fs FeatureSet) Add(c *FeatureChannel) FeatureSet {
	out := fs
	if out == nil {
		out = make(FeatureSet)
	}
	out[c.Name] = c
	return out
}
