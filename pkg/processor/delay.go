package processor

import (
	"fmt"
	"sync"
	"time"

	"firestige.xyz/netpcap/pkg/pipeline"
)

const DelayName = "packet-delay"

// DelaySettings is the delay configuration.
type DelaySettings struct {
	Delay time.Duration `mapstructure:"delay"`
}

// Delay forwards each frame, then holds the dispatch goroutine for a fixed
// duration. On a live source this throttles how fast the capture loop drains
// the kernel buffer.
type Delay struct {
	mu    sync.RWMutex
	delay time.Duration
}

// NewDelay creates a delay processor.
func NewDelay(d time.Duration) (*Delay, error) {
	p := &Delay{}
	if err := p.SetDelay(d); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Delay) Name() string { return DelayName }

// SetDelay sets the pause after each frame. Zero disables it.
func (p *Delay) SetDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative delay %s", pipeline.ErrInvalidConfig, d)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return nil
}

// Delay returns the configured pause.
func (p *Delay) Delay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delay
}

func (p *Delay) ProcessFrame(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
	d := p.Delay()

	n := next(dc, header, data)
	if d > 0 && !dc.Stopped() {
		if err := dc.Stopwatch().Sleep(dc.Context(), d); err != nil {
			dc.Stop()
		}
	}
	return n
}
