package processor

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/netpcap/internal/utils"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// LayerFilter keeps packets carrying at least one of the configured layers.
type LayerFilter struct {
	name   string
	types  []gopacket.LayerType
	passed atomic.Uint64
}

// LayerFilterSettings is the layer filter configuration.
type LayerFilterSettings struct {
	Layers []string `mapstructure:"layers"`
}

// NewLayerFilter resolves layer names such as "IPv4", "UDP" or "SIP" through
// the gopacket layer registry.
func NewLayerFilter(name string, layerNames ...string) (*LayerFilter, error) {
	if len(layerNames) == 0 {
		return nil, fmt.Errorf("%w: layer filter %s: no layers", pipeline.ErrInvalidConfig, name)
	}
	f := &LayerFilter{name: name}
	for _, n := range layerNames {
		lt, ok := lookupLayerType(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown layer %q", pipeline.ErrInvalidConfig, n)
		}
		f.types = append(f.types, lt)
	}
	return f, nil
}

// lookupLayerType scans the registered layer types; unregistered ones print as
// their number and never match a name.
func lookupLayerType(name string) (gopacket.LayerType, bool) {
	for i := range maxLayerType {
		lt := gopacket.LayerType(i)
		if strings.EqualFold(lt.String(), name) {
			return lt, true
		}
	}
	return 0, false
}

const maxLayerType = 2000

func (f *LayerFilter) Name() string { return f.name }

// Passed counts packets the filter kept.
func (f *LayerFilter) Passed() uint64 { return f.passed.Load() }

func (f *LayerFilter) ProcessPacket(pkt gopacket.Packet) bool {
	if slices.ContainsFunc(f.types, func(lt gopacket.LayerType) bool { return pkt.Layer(lt) != nil }) {
		f.passed.Add(1)
		return true
	}
	return false
}

// DecodeErrorFilter drops packets gopacket could not fully decode.
type DecodeErrorFilter struct {
	dropped atomic.Uint64
}

func (f *DecodeErrorFilter) Name() string { return "decode-error" }

// Dropped counts packets with a decode failure.
func (f *DecodeErrorFilter) Dropped() uint64 { return f.dropped.Load() }

func (f *DecodeErrorFilter) ProcessPacket(pkt gopacket.Packet) bool {
	if pkt.ErrorLayer() != nil {
		f.dropped.Add(1)
		return false
	}
	return true
}

// BPFFilter evaluates a tcpdump expression in a userspace BPF machine, for
// sources that cannot filter in the kernel (files, dead handles).
type BPFFilter struct {
	name string
	expr string
	vm   *bpf.VM
}

// BPFFilterSettings is the BPF filter configuration.
type BPFFilterSettings struct {
	Expression string `mapstructure:"expression"`
	SnapLen    int    `mapstructure:"snap_len"`
}

// NewBPFFilter compiles expr for linkType.
func NewBPFFilter(name string, linkType layers.LinkType, snapLen int, expr string) (*BPFFilter, error) {
	if snapLen <= 0 {
		snapLen = 262144
	}
	vm, err := utils.NewBPFVM(linkType, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrInvalidConfig, err)
	}
	return &BPFFilter{name: name, expr: expr, vm: vm}, nil
}

func (f *BPFFilter) Name() string { return f.name }

// Expression is the filter source.
func (f *BPFFilter) Expression() string { return f.expr }

func (f *BPFFilter) ProcessPacket(pkt gopacket.Packet) bool {
	n, err := f.vm.Run(pkt.Data())
	return err == nil && n > 0
}
