package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/relattn/internal/loader"
	"github.com/born-ml/relattn/internal/nn"
	"github.com/born-ml/relattn/internal/tensor"
)

func newConvertCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "convert SRC DST.safetensors",
		Short: "Convert a checkpoint to safetensors",
		Long: `Convert reads a PyTorch or safetensors checkpoint, keeps the entries under
--prefix (with the prefix removed) and writes them to a safetensors file at
--precision.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return convert(cmd, g, args[0], args[1])
		},
	}
}

func convert(cmd *cobra.Command, g *globalFlags, src, dst string) error {
	if loader.DetectFormat(dst) != loader.FormatSafeTensors {
		return errors.Wrapf(loader.ErrUnsupportedFormat, "destination %s must end in .safetensors", dst)
	}

	cfg, err := g.resolve(cmd)
	if err != nil {
		return err
	}
	precision, err := cfg.Precision()
	if err != nil {
		return err
	}

	state, err := loader.Load(src)
	if err != nil {
		return err
	}
	if cfg.Runtime.Prefix != "" {
		state = nn.StripPrefix(state, cfg.Runtime.Prefix)
		if len(state) == 0 {
			return errors.Errorf("no tensors under prefix %q in %s", cfg.Runtime.Prefix, src)
		}
	}

	meta := map[string]string{
		"source":    src,
		"precision": precision.String(),
	}
	if err := loader.WriteSafeTensors(dst, state, meta, loader.WithPrecision(precision)); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors to %s (%s)\n", len(state), dst, precisionLabel(precision))
	return nil
}

func precisionLabel(p tensor.Precision) string {
	if p == tensor.FP32 {
		return "fp32, float64 kept"
	}
	return p.String() + ", float64 kept"
}
