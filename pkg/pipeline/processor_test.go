package pipeline_test

import (
	"context"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netpcap/internal/source/memory"
	"firestige.xyz/netpcap/pkg/abi"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// recorder appends its name to a shared trace and forwards.
func recorder(name string, trace *[]string) pipeline.ProcessorFactory {
	return func() pipeline.Processor {
		return pipeline.ProcessorFunc{ID: name, Fn: func(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
			*trace = append(*trace, name)
			return next(dc, header, data)
		}}
	}
}

func TestAddProcessor_PriorityOrder(t *testing.T) {
	p, _ := newMemoryPipeline(t, 1)

	var trace []string
	for _, e := range []struct {
		prio int
		name string
	}{{10, "c"}, {-5, "a"}, {10, "d"}, {0, "b"}} {
		_, err := p.AddProcessor(e.prio, recorder(e.name, &trace))
		require.NoError(t, err)
	}

	_, err := p.DispatchNative(context.Background(), 1, func(any, []byte, []byte) {
		trace = append(trace, "handler")
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "handler"}, trace)
	assert.Equal(t, "pre[TestAddProcessor_PriorityOrder]: input -> a(-5) -> b(0) -> c(10) -> d(10) -> output", p.String())
}

func TestAddProcessor_Errors(t *testing.T) {
	p, _ := newMemoryPipeline(t, 0)
	var trace []string

	_, err := p.AddProcessor(0, recorder("x", &trace))
	require.NoError(t, err)
	_, err = p.AddProcessor(1, recorder("x", &trace))
	assert.ErrorIs(t, err, pipeline.ErrDuplicateProcessor)

	_, err = p.AddProcessor(0, nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
	_, err = p.AddProcessor(0, func() pipeline.Processor { return nil })
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}

func TestProcessorHandle_DisableAndRemove(t *testing.T) {
	p, _ := newMemoryPipeline(t, 3)

	var trace []string
	ha, err := p.AddProcessor(0, recorder("a", &trace))
	require.NoError(t, err)
	hb, err := p.AddProcessor(1, recorder("b", &trace))
	require.NoError(t, err)

	noop := func(any, []byte, []byte) {}
	ha.SetEnabled(false)
	assert.False(t, ha.Enabled())
	_, err = p.DispatchNative(context.Background(), 1, noop, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, trace)
	assert.Contains(t, p.String(), "a(0,disabled)")

	ha.SetEnabled(true)
	require.NoError(t, hb.Remove())
	_, err = p.DispatchNative(context.Background(), 1, noop, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, trace)

	assert.ErrorIs(t, hb.Remove(), pipeline.ErrProcessorNotFound)
	_, ok := p.Processor("b")
	assert.False(t, ok)
	got, ok := p.Processor("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())
	require.Len(t, p.Processors(), 1)
}

func TestRemoveProcessor_ForeignHandle(t *testing.T) {
	p1, _ := newMemoryPipeline(t, 0)
	p2, _ := newMemoryPipeline(t, 0)
	var trace []string

	h, err := p1.AddProcessor(0, recorder("a", &trace))
	require.NoError(t, err)
	assert.ErrorIs(t, p2.RemoveProcessor(h), pipeline.ErrProcessorNotFound)
	assert.ErrorIs(t, p2.RemoveProcessor(nil), pipeline.ErrProcessorNotFound)
}

func TestProcessor_DropAndReplicate(t *testing.T) {
	p, _ := newMemoryPipeline(t, 4)

	// drop odd frames, duplicate even ones
	_, err := p.AddProcessor(0, func() pipeline.Processor {
		return pipeline.ProcessorFunc{ID: "odd-even", Fn: func(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
			if data[0]%2 == 1 {
				return 0
			}
			return next(dc, header, data) + next(dc, header, data)
		}}
	})
	require.NoError(t, err)

	var got []byte
	n, err := p.DispatchNative(context.Background(), 4, func(_ any, _, data []byte) {
		got = append(got, data[0])
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, []byte{0, 0, 2, 2}, got)

	stats := p.Stats()
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, uint64(4), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestDispatchContext_ScratchHeader(t *testing.T) {
	p, _ := newMemoryPipeline(t, 2)

	var lastTs []int64
	_, err := p.AddProcessor(0, func() pipeline.Processor {
		return pipeline.ProcessorFunc{ID: "shift", Fn: func(dc *pipeline.DispatchContext, header, data []byte, next pipeline.NextFunc) int {
			h := dc.Header()
			dc.SetTimestamp(h.TimestampNanos + 1000)
			assert.Equal(t, h.TimestampNanos+1000, dc.Header().TimestampNanos)
			// the borrowed header is left alone
			assert.Equal(t, h.TimestampNanos, dc.ABI().TimestampNanos(header))
			n := next(dc, dc.ScratchHeader(), data)
			lastTs = append(lastTs, dc.LastTimestamp)
			return n
		}}
	})
	require.NoError(t, err)

	_, err = p.DispatchNative(context.Background(), 2, func(any, []byte, []byte) {}, nil)
	require.NoError(t, err)
	require.Len(t, lastTs, 2)
	assert.Equal(t, epoch.UnixNano()+1000, lastTs[0])
	assert.Equal(t, epoch.UnixNano()+1_000_000+1000, lastTs[1])
}

func TestBuilder(t *testing.T) {
	src := memory.New(abi.CompactLE, layers.LinkTypeEthernet)
	src.Append(epoch, udpFrame(t, nil), 0)

	var trace []string
	p, err := pipeline.NewBuilder().
		WithName("built").
		WithSource(src).
		WithProcessor(2, recorder("late", &trace)).
		WithProcessor(1, recorder("early", &trace)).
		WithPostProcessor(0, pipeline.PostProcessorFunc{ID: "all", Fn: func(gopacket.Packet) bool { return true }}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "built", p.Name())
	assert.NotEmpty(t, p.ID())
	assert.Equal(t, 1, p.Post().Len())
	assert.Equal(t, "post[built]: packet -> all -> handler", p.Post().String())

	pkt, err := p.NextPacket(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pkt)
	assert.Equal(t, []string{"early", "late"}, trace)

	_, err = pipeline.NewBuilder().WithProcessor(0, nil).Build()
	assert.ErrorIs(t, err, pipeline.ErrNilSource)
	_, err = pipeline.NewBuilder().WithSource(src).WithProcessor(0, nil).Build()
	assert.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}
