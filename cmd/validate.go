package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/pkg/processor"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and print the effective configuration",
	Long: `Validate a configuration file without opening a capture source.

Defaults and NETPCAP_* environment overrides are applied, every processor is
built, and the effective configuration is printed as YAML.

Examples:
  netpcap validate -c netpcap.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(out io.Writer) error {
	cfg, err := loadConfig(map[string]any{})
	if err != nil {
		return err
	}
	return validateConfig(cfg, out)
}

func validateConfig(cfg *config.Config, out io.Writer) error {
	for i, pc := range cfg.Processors {
		if _, _, err := processor.Build(pc.Type, pc.Settings); err != nil {
			return fmt.Errorf("processors[%d]: %w", i, err)
		}
	}

	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprintf(out, "VALID: %s source, %d processor(s), %d post-processor(s)\n",
		cfg.Source.Type, len(cfg.Processors), len(cfg.Post))
	_, err = out.Write(data)
	return err
}
