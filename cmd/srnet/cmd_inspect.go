package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfluke/srnet/detector"
	"github.com/openfluke/srnet/models"
	"github.com/openfluke/srnet/nn"
)

var (
	summaryInputShape string
	summaryTree       bool
	summaryJSON       bool

	exportOut   string
	exportDType string
	exportSeed  int64
)

// summaryCmd prints the per-layer table without running any kernels
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the layer table for an input shape",
	Long: `Traces the configured generator for one C,H,W input and prints each leaf
layer's output shape and parameter count, followed by memory estimates.

Example:
  srnet summary --input-shape 3,512,512`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

// exportCmd writes freshly initialised weights
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Initialise a model and save its state dict as safetensors",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

// deviceCmd reports CPU and GPU capabilities
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Print the CPU/GPU capability report as JSON",
	Args:  cobra.NoArgs,
	RunE:  runDevice,
}

func init() {
	summaryCmd.Flags().StringVar(&summaryInputShape, "input-shape", "3,512,512", "input C,H,W (batch omitted)")
	summaryCmd.Flags().BoolVar(&summaryTree, "tree", false, "also print the module tree")
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "print the layer blueprint as JSON instead of the table")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "destination .safetensors file")
	exportCmd.Flags().StringVar(&exportDType, "dtype", "F32", "storage dtype: F32, F16 or BF16")
	exportCmd.Flags().Int64Var(&exportSeed, "seed", 0, "initialisation seed (overrides runtime.seed)")
	_ = exportCmd.MarkFlagRequired("out")
}

func runSummary(cmd *cobra.Command, args []string) error {
	shape, err := parseShape(summaryInputShape, 3)
	if err != nil {
		return err
	}
	model, err := models.Build(cfg.Model, rand.New(rand.NewSource(cfg.Runtime.Seed)), models.WithLogger(logger))
	if err != nil {
		return err
	}
	s, err := nn.Summarize(model, shape)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if summaryJSON {
		js, err := s.Telemetry(cfg.Model.Arch, model).JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, js)
		return nil
	}
	if summaryTree {
		fmt.Fprint(w, nn.Describe(model))
	}
	return s.Write(w)
}

func runExport(cmd *cobra.Command, args []string) error {
	seed := cfg.Runtime.Seed
	if cmd.Flags().Changed("seed") {
		seed = exportSeed
	}
	model, err := models.Build(cfg.Model, rand.New(rand.NewSource(seed)), models.WithLogger(logger))
	if err != nil {
		return err
	}

	tensors := nn.StateTensors(model)
	if err := nn.SaveSafetensors(exportOut, tensors, exportDType, cfg.Model.Metadata()); err != nil {
		return err
	}
	st, err := os.Stat(exportOut)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors, %s params (%s) to %s\n",
		len(tensors), humanize.Comma(nn.NumParams(model)), humanize.IBytes(uint64(st.Size())), exportOut)
	logger.Info("weights exported", zap.String("path", exportOut), zap.String("dtype", exportDType))
	return nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	s, err := detector.DetectJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s)
	return nil
}
