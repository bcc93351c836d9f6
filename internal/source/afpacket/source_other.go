//go:build !linux

package afpacket

import (
	"errors"

	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// ErrUnsupported is returned by Open on platforms without AF_PACKET.
var ErrUnsupported = errors.New("netpcap: afpacket is only supported on linux")

type Source struct{}

func Open(Config) (*Source, error) { return nil, ErrUnsupported }

func (*Source) HeaderABI() abi.ABI        { return abi.Native() }
func (*Source) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (*Source) BreakLoop()                {}
func (*Source) Close() error              { return nil }

func (*Source) Dispatch(int, pipeline.NativeHandler, any) (int, error) {
	return 0, ErrUnsupported
}
