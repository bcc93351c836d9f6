package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/internal/runner"
	"firestige.xyz/netpcap/pkg/pipeline"
)

// sessionFlags are the flags shared by replay and capture.
type sessionFlags struct {
	count          int64
	representation string
	metricsListen  string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.count, "count", "n", 0, "stop after delivering this many frames (0: no limit)")
	cmd.Flags().StringVarP(&f.representation, "representation", "r", "", "output representation (native/array/buffer/foreign/packet)")
	cmd.Flags().StringVar(&f.metricsListen, "metrics", "", "serve Prometheus metrics on this address")
}

func (f *sessionFlags) apply(cmd *cobra.Command, overrides map[string]any) {
	if cmd.Flags().Changed("count") {
		overrides["dispatch.count"] = f.count
	}
	if f.representation != "" {
		overrides["dispatch.representation"] = f.representation
	}
	if f.metricsListen != "" {
		overrides["metrics.enabled"] = true
		overrides["metrics.listen"] = f.metricsListen
	}
}

// runSession drives one configured session until it ends or the process is
// signalled, then prints its counters to out.
func runSession(ctx context.Context, cfg *config.Config, out io.Writer) (pipeline.Stats, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(cfg, out)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer r.Close()

	st, err := r.Run(ctx)
	fmt.Fprintf(os.Stderr, "%d received, %d delivered, %d dropped, %d post-dropped\n",
		st.Received, st.Delivered, st.Dropped, r.Handle().PostProcessors().Dropped())
	return st, err
}
