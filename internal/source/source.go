// Package source opens the capture source selected by configuration.
package source

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/internal/source/afpacket"
	"firestige.xyz/netpcap/internal/source/file"
	"firestige.xyz/netpcap/internal/source/live"
	"firestige.xyz/netpcap/internal/source/memory"
	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// Source is a pipeline source the caller must close.
type Source interface {
	pipeline.Source
	io.Closer
}

// Open opens the source described by cfg.
func Open(cfg config.SourceConfig) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Type {
	case config.SourceFile:
		src, err = openFile(cfg.Path)
	case config.SourceLive:
		src, err = openLive(live.Config{
			Interface:    cfg.Interface,
			SnapLen:      cfg.SnapLen,
			Promiscuous:  cfg.Promiscuous,
			Immediate:    cfg.Immediate,
			Timeout:      cfg.ReadTimeout(),
			BufferSizeMB: cfg.BufferSizeMB,
			BPFFilter:    cfg.BPFFilter,
		})
	case config.SourceAFPacket:
		src, err = openAFPacket(afpacket.Config{
			Interface:    cfg.Interface,
			SnapLen:      cfg.SnapLen,
			BufferSizeMB: cfg.BufferSizeMB,
			Timeout:      cfg.ReadTimeout(),
			FanoutID:     cfg.FanoutID,
			BPFFilter:    cfg.BPFFilter,
		})
	case config.SourceDead:
		var lt layers.LinkType
		if lt, err = ParseLinkType(cfg.LinkType); err == nil {
			src = Dead(lt)
		}
	default:
		err = fmt.Errorf("%w: unknown source type %q", pipeline.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func openFile(path string) (Source, error) {
	s, err := file.Open(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openLive(cfg live.Config) (Source, error) {
	s, err := live.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openAFPacket(cfg afpacket.Config) (Source, error) {
	s, err := afpacket.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// deadSource never yields a frame.
type deadSource struct {
	*memory.Source
}

func (deadSource) Close() error { return nil }

// Dead returns a source with a fixed link type and no frames.
func Dead(linkType layers.LinkType) Source {
	return deadSource{memory.New(abi.Native(), linkType)}
}

// ParseLinkType resolves a link type by name, such as "Ethernet" or
// "linux_sll", or by number.
func ParseLinkType(s string) (layers.LinkType, error) {
	if s == "" {
		return layers.LinkTypeEthernet, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 255 {
			return 0, fmt.Errorf("%w: link type %d out of range", pipeline.ErrInvalidConfig, n)
		}
		return layers.LinkType(n), nil
	}
	want := normalize(s)
	for i := range 256 {
		lt := layers.LinkType(i)
		if normalize(lt.String()) == want {
			return lt, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown link type %q", pipeline.ErrInvalidConfig, s)
}

func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
}
