// Package utils holds small helpers shared by sources and processors.
package utils

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBPF compiles a tcpdump expression for linkType into raw classic BPF,
// the form SO_ATTACH_FILTER and bpf.NewVM consume.
func CompileBPF(linkType layers.LinkType, snapLen int, expr string) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(linkType, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile bpf filter %q: %w", expr, err)
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// NewBPFVM compiles expr into a userspace BPF machine.
func NewBPFVM(linkType layers.LinkType, snapLen int, expr string) (*bpf.VM, error) {
	raw, err := CompileBPF(linkType, snapLen, expr)
	if err != nil {
		return nil, err
	}
	prog := make([]bpf.Instruction, len(raw))
	for i, r := range raw {
		prog[i] = r.Disassemble()
	}
	return bpf.NewVM(prog)
}
