// Package processor provides the built-in pre-processors (repeater, delay,
// player) and post-processors, and builds them from configuration.
package processor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Default priorities. Lower runs first, so a player paces frames before the
// repeater replicates them and the delay runs after delivery.
const (
	PlayerPriority   = 10
	RepeaterPriority = 20
	DelayPriority    = 30
)

const RepeaterName = "packet-repeater"

// discardAll is the repeat count that drops the original too.
const discardAll = -1

// RepeaterSettings is the repeater configuration.
type RepeaterSettings struct {
	RepeatCount      int64         `mapstructure:"repeat_count"`
	Discard          bool          `mapstructure:"discard"`
	Ifg              time.Duration `mapstructure:"ifg"`
	MinIfg           time.Duration `mapstructure:"min_ifg"`
	RewriteTimestamp bool          `mapstructure:"rewrite_timestamp"`
	TimestampUnit    string        `mapstructure:"timestamp_unit"`
}

// Repeater forwards every frame RepeatCount times. The first copy is the
// original frame, waited for by MinIfg; every further copy waits Ifg after the
// previous one ended and, with RewriteTimestamp, carries the time it was
// actually forwarded at. RepeatCount 0 drops frames; DiscardAll does too and
// overrides any count until a count is set again.
type Repeater struct {
	mu          sync.RWMutex
	repeatCount int64
	ifg         time.Duration
	minIfg      time.Duration
	rewrite     bool
	unit        abi.TimestampUnit
}

// NewRepeater creates a repeater forwarding every frame count times.
func NewRepeater(count int64) (*Repeater, error) {
	r := &Repeater{unit: abi.EpochNano}
	if err := r.SetRepeatCount(count); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRepeaterWithSettings applies s over a pass-through repeater.
func NewRepeaterWithSettings(s RepeaterSettings) (*Repeater, error) {
	r, err := NewRepeater(s.RepeatCount)
	if err != nil {
		return nil, err
	}
	unit, err := abi.ParseTimestampUnit(s.TimestampUnit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrInvalidConfig, err)
	}
	if err := r.SetIfg(s.Ifg); err != nil {
		return nil, err
	}
	if err := r.SetMinIfg(s.MinIfg); err != nil {
		return nil, err
	}
	r.SetRewriteTimestamp(s.RewriteTimestamp)
	r.SetTimestampUnit(unit)
	if s.Discard {
		r.DiscardAll(true)
	}
	return r, nil
}

func (r *Repeater) Name() string { return RepeaterName }

// SetRepeatCount sets how many times each frame is forwarded and clears a
// discard override.
func (r *Repeater) SetRepeatCount(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: repeat count can not be negative: %d", pipeline.ErrInvalidConfig, n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repeatCount = n
	return nil
}

// DiscardAll drops every frame, original included. DiscardAll(false) is a
// no-op; set a repeat count to resume.
func (r *Repeater) DiscardAll(discard bool) {
	if !discard {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repeatCount = discardAll
}

// SetIfg sets the gap before each repeated copy.
func (r *Repeater) SetIfg(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative ifg %s", pipeline.ErrInvalidConfig, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifg = d
	return nil
}

// SetMinIfg sets the gap enforced before the original frame.
func (r *Repeater) SetMinIfg(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative min ifg %s", pipeline.ErrInvalidConfig, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minIfg = d
	return nil
}

// SetRewriteTimestamp makes repeated copies carry their forwarding time.
func (r *Repeater) SetRewriteTimestamp(enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewrite = enable
}

// SetTimestampUnit sets the precision of rewritten timestamps.
func (r *Repeater) SetTimestampUnit(u abi.TimestampUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unit = u
}

// Settings returns the current configuration.
func (r *Repeater) Settings() RepeaterSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := RepeaterSettings{
		RepeatCount:      r.repeatCount,
		Ifg:              r.ifg,
		MinIfg:           r.minIfg,
		RewriteTimestamp: r.rewrite,
		TimestampUnit:    r.unit.String(),
	}
	if s.RepeatCount == discardAll {
		s.RepeatCount, s.Discard = 0, true
	}
	return s
}

func (r *Repeater) ProcessFrame(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
	r.mu.RLock()
	count, ifg, minIfg, rewrite, unit := r.repeatCount, r.ifg, r.minIfg, r.rewrite, r.unit
	r.mu.RUnlock()

	delay := ifg > 0 || minIfg > 0
	sw := dc.Stopwatch()
	prevTs := dc.Header().TimestampNanos

	n := 0
	for c := int64(0); c < count && !dc.Stopped(); c++ {
		scope := sw.Start(prevTs)
		if delay {
			gap := ifg
			if c == 0 {
				gap = minIfg
			}
			if err := sw.DelayIfg(dc.Context(), gap); err != nil {
				scope.Close()
				slog.Debug("repeater interrupted", "processor", RepeaterName, "repeat", c, "error", err)
				dc.Stop()
				break
			}
		}

		out := header
		if c > 0 && rewrite && delay {
			dc.SetTimestamp(unit.ToNanos(unit.FromNanos(sw.NewTsNanos())))
			out = dc.ScratchHeader()
			// each copy is paced from the one before it
			prevTs = dc.Header().TimestampNanos
		}
		n += next(dc, out, data)
		scope.Close()
	}
	return n
}
