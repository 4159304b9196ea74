package domain

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV observation. Bars are immutable once ingested.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered, gap-tolerant sequence of bars with optional feature
// channels aligned by timestamp.
type Series struct {
	Symbol   string
	Bars     []Bar
	Features FeatureSet
}

// Validate rejects a malformed series before any simulation starts.
// Timestamps must be strictly increasing and every bar must satisfy
// high >= max(open,close) >= min(open,close) >= low >= 0.
func (s *Series) Validate() error {
	if len(s.Bars) == 0 {
		return &InputError{Reason: "series contains no bars"}
	}
	for i, b := range s.Bars {
		if i > 0 && !b.Timestamp.After(s.Bars[i-1].Timestamp) {
			return &InputError{Reason: fmt.Sprintf("timestamps are not strictly increasing at index %d", i)}
		}
		if b.Low < 0 {
			return &InputError{Reason: fmt.Sprintf("negative low at index %d", i)}
		}
		hi := b.Open
		if b.Close > hi {
			hi = b.Close
		}
		lo := b.Open
		if b.Close < lo {
			lo = b.Close
		}
		if b.High < hi || lo < b.Low {
			return &InputError{Reason: fmt.Sprintf("OHLC range violated at index %d", i)}
		}
	}
	return nil
}

// Slice returns a sub-series over bars[from:to). Feature channels are shared;
// they are keyed by timestamp so a slice cannot see values outside its bars.
func (s *Series) Slice(from, to int) *Series {
	return &Series{
		Symbol:   s.Symbol,
		Bars:     s.Bars[from:to],
		Features: s.Features,
	}
}

func (s *Series) Len() int { return len(s.Bars) }
