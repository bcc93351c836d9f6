// Package runner assembles a capture session from configuration and drives it
// until the source is exhausted, the frame budget is spent or it is cancelled.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/internal/metrics"
	"firestige.xyz/netpcap/internal/sink/console"
	"firestige.xyz/netpcap/internal/source"
	"firestige.xyz/netpcap/pkg/netpcap"
	"firestige.xyz/netpcap/pkg/pipeline"
	"firestige.xyz/netpcap/pkg/processor"
)

// Runner owns one handle, its processors, the output sink and the optional
// metrics server.
type Runner struct {
	cfg    *config.Config
	handle *netpcap.Handle
	rep    pipeline.Representation
	sink   *console.Sink

	collector  *metrics.Collector
	registry   *prometheus.Registry
	server     *metrics.Server
	unregister func()
}

// New opens the configured source and registers the configured processors.
// Frames are printed to out.
func New(cfg *config.Config, out io.Writer, opts ...netpcap.Option) (*Runner, error) {
	rep, err := pipeline.ParseRepresentation(cfg.Dispatch.Representation)
	if err != nil {
		return nil, err
	}

	src, err := source.Open(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	h, err := netpcap.OpenSource(src, opts...)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		handle:    h,
		rep:       rep,
		sink:      console.NewSink(out, h.PreProcessors().ABI()),
		collector: metrics.NewCollector(),
		registry:  prometheus.NewRegistry(),
	}
	if err := r.registerProcessors(); err != nil {
		h.Close()
		return nil, err
	}

	name := h.PreProcessors().Name()
	r.unregister = h.AddErrorListener(func(err error) {
		metrics.CaptureFaultsTotal.WithLabelValues(name, metrics.FaultKind(err)).Inc()
		slog.Warn("frame fault", "pipeline", name, "error", err)
	})

	r.collector.Add(h.PreProcessors())
	r.registry.MustRegister(r.collector)
	if cfg.Metrics.Enabled {
		r.server = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path,
			prometheus.Gatherers{prometheus.DefaultGatherer, r.registry})
	}

	slog.Info("session ready",
		"pipeline", name,
		"session", h.PreProcessors().ID(),
		"source", cfg.Source.Type,
		"representation", rep.String(),
		"chain", h.PreProcessors().String(),
		"post", h.PostProcessors().String())
	return r, nil
}

func (r *Runner) registerProcessors() error {
	pre := r.handle.PreProcessors()
	for i, pc := range r.cfg.Processors {
		proc, priority, err := processor.Build(pc.Type, pc.Settings)
		if err != nil {
			return fmt.Errorf("processors[%d]: %w", i, err)
		}
		if pc.Priority != nil {
			priority = *pc.Priority
		}
		h, err := pre.AddProcessor(priority, func() pipeline.Processor { return proc })
		if err != nil {
			return fmt.Errorf("processors[%d]: %w", i, err)
		}
		h.SetEnabled(pc.IsEnabled())
	}

	post := r.handle.PostProcessors()
	for i, pc := range r.cfg.Post {
		proc, err := processor.BuildPost(pc.Type, pc.Name, r.handle.LinkType(), pc.Settings)
		if err != nil {
			return fmt.Errorf("post[%d]: %w", i, err)
		}
		if err := post.Add(pc.Priority, proc); err != nil {
			return fmt.Errorf("post[%d]: %w", i, err)
		}
	}
	return nil
}

// Handle is the session's capture handle.
func (r *Runner) Handle() *netpcap.Handle { return r.handle }

// Registry holds the session's pipeline collector.
func (r *Runner) Registry() *prometheus.Registry { return r.registry }

// Run drives the session and the metrics server until the dispatch loop ends.
func (r *Runner) Run(ctx context.Context) (pipeline.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if r.server != nil {
		if err := r.server.Start(); err != nil {
			return r.handle.Stats(), err
		}
		g.Go(func() error { return r.server.Serve(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return r.loop(gctx)
	})

	err := g.Wait()
	st := r.handle.Stats()
	slog.Info("session finished",
		"pipeline", r.handle.PreProcessors().Name(),
		"received", st.Received,
		"delivered", st.Delivered,
		"dropped", st.Dropped,
		"post_dropped", r.handle.PostProcessors().Dropped(),
		"delay", st.Delay)
	return st, err
}

// loop repeats dispatch calls of at most Batch frames. A finite source ends
// the loop once a call receives nothing; a live source runs until ctx is done.
func (r *Runner) loop(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.handle.BreakLoop)
	defer stop()

	finite := r.cfg.Source.Type == config.SourceFile || r.cfg.Source.Type == config.SourceDead
	remaining := r.cfg.Dispatch.Count
	name := r.handle.PreProcessors().Name()
	hist := metrics.DispatchDurationSeconds.WithLabelValues(name, r.rep.String())

	for ctx.Err() == nil {
		batch := r.cfg.Dispatch.Batch
		if remaining > 0 {
			batch = min(batch, remaining)
		}

		before := r.handle.Stats().Received
		start := time.Now()
		n, err := r.dispatch(ctx, batch)
		hist.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}

		if remaining > 0 {
			remaining -= n
			if remaining <= 0 {
				return nil
			}
		}
		if finite && r.handle.Stats().Received == before {
			return nil
		}
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, count int64) (int64, error) {
	h, s := r.handle, r.sink
	switch r.rep {
	case pipeline.Native:
		return h.DispatchNative(ctx, count, s.HandleNative, nil)
	case pipeline.Array:
		return h.DispatchArray(ctx, count, s.HandleArray, nil)
	case pipeline.Buffer:
		return h.DispatchBuffer(ctx, count, s.HandleBuffer, nil)
	case pipeline.Foreign:
		return h.DispatchForeign(ctx, count, s.HandleForeign, nil)
	default:
		return h.DispatchPacket(ctx, count, s.HandlePacket, nil)
	}
}

// Close releases the handle.
func (r *Runner) Close() error {
	if r.unregister != nil {
		r.unregister()
	}
	r.collector.Remove(r.handle.PreProcessors().ID())
	return r.handle.Close()
}
