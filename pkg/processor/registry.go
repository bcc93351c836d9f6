package processor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/netpcap/pkg/pipeline"
)

// Factory builds a pre-processor from its settings map. It also returns the
// priority the processor runs at unless configured otherwise.
type Factory func(settings map[string]any) (pipeline.Processor, int, error)

// PostFactory builds a post-processor from its settings map.
type PostFactory func(name string, linkType layers.LinkType, settings map[string]any) (pipeline.PostProcessor, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{
		"repeater": buildRepeater,
		"delay":    buildDelay,
		"player":   buildPlayer,
	}
	postRegistry = map[string]PostFactory{
		"layer":        buildLayerFilter,
		"decode_error": buildDecodeErrorFilter,
		"bpf":          buildBPFFilter,
	}
)

// Register adds or replaces a pre-processor type.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = f
}

// RegisterPost adds or replaces a post-processor type.
func RegisterPost(kind string, f PostFactory) {
	mu.Lock()
	defer mu.Unlock()
	postRegistry[kind] = f
}

// Types lists the registered pre-processor types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates a pre-processor of the given type.
func Build(kind string, settings map[string]any) (pipeline.Processor, int, error) {
	mu.RLock()
	f, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown processor type %q", pipeline.ErrInvalidConfig, kind)
	}
	return f(settings)
}

// BuildPost creates a post-processor of the given type.
func BuildPost(kind, name string, linkType layers.LinkType, settings map[string]any) (pipeline.PostProcessor, error) {
	mu.RLock()
	f, ok := postRegistry[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown post processor type %q", pipeline.ErrInvalidConfig, kind)
	}
	if name == "" {
		name = kind
	}
	return f(name, linkType, settings)
}

// decode fills out from a settings map. Durations accept "1ms" style strings;
// unknown keys are errors.
func decode(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrInvalidConfig, err)
	}
	return nil
}

func buildRepeater(settings map[string]any) (pipeline.Processor, int, error) {
	s := RepeaterSettings{RepeatCount: 1}
	if err := decode(settings, &s); err != nil {
		return nil, 0, err
	}
	r, err := NewRepeaterWithSettings(s)
	return r, RepeaterPriority, err
}

func buildDelay(settings map[string]any) (pipeline.Processor, int, error) {
	var s DelaySettings
	if err := decode(settings, &s); err != nil {
		return nil, 0, err
	}
	d, err := NewDelay(s.Delay)
	return d, DelayPriority, err
}

func buildPlayer(settings map[string]any) (pipeline.Processor, int, error) {
	s := DefaultPlayerSettings()
	if err := decode(settings, &s); err != nil {
		return nil, 0, err
	}
	p, err := NewPlayer(s)
	return p, PlayerPriority, err
}

func buildLayerFilter(name string, _ layers.LinkType, settings map[string]any) (pipeline.PostProcessor, error) {
	var s LayerFilterSettings
	if err := decode(settings, &s); err != nil {
		return nil, err
	}
	return NewLayerFilter(name, s.Layers...)
}

func buildDecodeErrorFilter(string, layers.LinkType, map[string]any) (pipeline.PostProcessor, error) {
	return &DecodeErrorFilter{}, nil
}

func buildBPFFilter(name string, linkType layers.LinkType, settings map[string]any) (pipeline.PostProcessor, error) {
	var s BPFFilterSettings
	if err := decode(settings, &s); err != nil {
		return nil, err
	}
	return NewBPFFilter(name, linkType, s.SnapLen, s.Expression)
}
