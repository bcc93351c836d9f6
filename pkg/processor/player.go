package processor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"firestige.xyz/netpcap/pkg/pipeline"
)

const PlayerName = "packet-player"

// PlayerSettings is the player configuration.
type PlayerSettings struct {
	Speed  float64       `mapstructure:"speed"`
	Sync   bool          `mapstructure:"sync"`
	MinIfg time.Duration `mapstructure:"min_ifg"`
	MaxIfg time.Duration `mapstructure:"max_ifg"`
	// ReferenceTime, when set, moves forwarded timestamps onto a timeline
	// that starts there. "now" picks the wall clock at the first frame.
	ReferenceTime string `mapstructure:"reference_time"`
}

// DefaultPlayerSettings plays at recorded speed, in sync.
func DefaultPlayerSettings() PlayerSettings {
	return PlayerSettings{Speed: 1, Sync: true, MaxIfg: math.MaxInt64}
}

// Player reproduces the recorded cadence of an offline capture: each frame
// waits for the gap between its timestamp and the previous frame's, divided by
// the playback speed and clamped to [MinIfg, MaxIfg]. Speed 0 plays as fast as
// possible.
type Player struct {
	mu       sync.RWMutex
	speed    float64
	sync     bool
	minIfg   time.Duration
	maxIfg   time.Duration
	refNanos int64
	refNow   bool

	// playback state, touched only by the dispatch goroutine
	started   bool
	prevTs    int64
	firstTs   int64
	baseNanos int64
}

// NewPlayer creates a player with s.
func NewPlayer(s PlayerSettings) (*Player, error) {
	p := &Player{}
	if err := p.SetSpeed(s.Speed); err != nil {
		return nil, err
	}
	if s.MaxIfg == 0 {
		s.MaxIfg = math.MaxInt64
	}
	if err := p.SetIfgBounds(s.MinIfg, s.MaxIfg); err != nil {
		return nil, err
	}
	p.SetSync(s.Sync)

	switch s.ReferenceTime {
	case "":
	case "now":
		p.UseCurrentTime()
	default:
		ref, err := time.Parse(time.RFC3339Nano, s.ReferenceTime)
		if err != nil {
			return nil, fmt.Errorf("%w: reference time: %w", pipeline.ErrInvalidConfig, err)
		}
		p.SetReferenceTime(ref)
	}
	return p, nil
}

func (p *Player) Name() string { return PlayerName }

// SetSpeed sets the playback multiplier. Playing backwards is not supported.
func (p *Player) SetSpeed(speed float64) error {
	if speed < 0 || math.IsNaN(speed) {
		return fmt.Errorf("%w: negative speed not allowed, playback backwards not supported", pipeline.ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
	return nil
}

// SetSync turns pacing on or off. Without it frames are only rewritten.
func (p *Player) SetSync(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sync = enable
}

// SetIfgBounds clamps every computed gap.
func (p *Player) SetIfgBounds(minIfg, maxIfg time.Duration) error {
	if minIfg < 0 || maxIfg < minIfg {
		return fmt.Errorf("%w: ifg bounds [%s, %s]", pipeline.ErrInvalidConfig, minIfg, maxIfg)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minIfg, p.maxIfg = minIfg, maxIfg
	return nil
}

// SetReferenceTime rewrites forwarded timestamps relative to ref. The zero
// time turns rewriting off.
func (p *Player) SetReferenceTime(ref time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refNow = false
	p.refNanos = 0
	if !ref.IsZero() {
		p.refNanos = ref.UnixNano()
	}
	p.started = false
}

// UseCurrentTime rewrites forwarded timestamps relative to the moment the
// next playback starts.
func (p *Player) UseCurrentTime() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refNow = true
	p.refNanos = 0
	p.started = false
}

// Reset starts a new playback on the next frame.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
}

// Settings returns the current configuration.
func (p *Player) Settings() PlayerSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := PlayerSettings{Speed: p.speed, Sync: p.sync, MinIfg: p.minIfg, MaxIfg: p.maxIfg}
	switch {
	case p.refNow:
		s.ReferenceTime = "now"
	case p.refNanos != 0:
		s.ReferenceTime = time.Unix(0, p.refNanos).UTC().Format(time.RFC3339Nano)
	}
	return s
}

// scale divides a recorded interval by the playback speed.
func scale(d int64, speed float64) int64 {
	if speed == 0 || speed == 1 {
		return d
	}
	return int64(float64(d) / speed)
}

func (p *Player) ProcessFrame(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
	sw := dc.Stopwatch()
	ts := dc.Header().TimestampNanos

	p.mu.Lock()
	speed, paced, minIfg, maxIfg := p.speed, p.sync, p.minIfg, p.maxIfg
	first := !p.started
	if first {
		p.started = true
		p.firstTs = ts
		p.prevTs = ts
		p.baseNanos = p.refNanos
		if p.refNow {
			p.baseNanos = sw.Now().UnixNano()
		}
	}
	prevTs, firstTs, base := p.prevTs, p.firstTs, p.baseNanos
	p.prevTs = ts
	p.mu.Unlock()

	scope := sw.Start(ts)
	defer scope.Close()

	if paced && speed > 0 && !first {
		gap := time.Duration(scale(max(ts-prevTs, 0), speed))
		gap = min(max(gap, minIfg), maxIfg)
		if err := sw.DelayIfg(dc.Context(), gap); err != nil {
			dc.Stop()
			return 0
		}
	}

	if base == 0 {
		return next(dc, header, data)
	}
	dc.SetTimestamp(base + scale(ts-firstTs, speed))
	return next(dc, dc.ScratchHeader(), data)
}
