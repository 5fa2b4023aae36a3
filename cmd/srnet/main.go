// Command srnet builds super-resolution generators and runs them on random
// input, reporting output shapes, layer summaries and device capabilities.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfluke/srnet/internal/config"
	"github.com/openfluke/srnet/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "srnet",
	Short: "Super-resolution generator networks (EDSR, RRDBNet) in Go",
	Long: `srnet builds EDSR and ESRGAN (RRDBNet) generators, runs forward passes
on the CPU or a WebGPU device, prints torchsummary-style layer tables and
reads/writes safetensors weights.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose || flagSet(cmd, "trace") {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(forwardCmd, summaryCmd, exportCmd, deviceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func flagSet(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Value.String() == "true"
}

// parseShape reads exactly dims comma separated positive ints.
func parseShape(s string, dims int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != dims {
		return nil, fmt.Errorf("shape %q: want %d comma separated dims, got %d", s, dims, len(parts))
	}
	shape := make([]int, dims)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", s, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("shape %q: dims must be positive", s)
		}
		shape[i] = n
	}
	return shape, nil
}
