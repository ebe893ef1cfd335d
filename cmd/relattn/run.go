package main

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/internal/loader"
	"github.com/born-ml/relattn/internal/nn"
	"github.com/born-ml/relattn/internal/tensor"
)

type runFlags struct {
	batch     int
	time      int
	seed      int64
	input     string
	inputName string
	padFrom   int
	output    string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the self-attention block on random or stored input",
		Long: `Run builds the self-attention block from the configuration, optionally
loads a checkpoint, and evaluates it on either a random [batch, time, d_model]
input or a tensor read from a safetensors file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBlock(cmd, g, &f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.batch, "batch", 2, "batch size for random input")
	flags.IntVar(&f.time, "time", 50, "sequence length for random input")
	flags.Int64Var(&f.seed, "input-seed", 0, "seed for random input")
	flags.StringVar(&f.input, "input", "", "safetensors file holding the input tensor")
	flags.StringVar(&f.inputName, "input-name", "input", "tensor name inside --input")
	flags.IntVar(&f.padFrom, "pad-from", 0, "mask key positions >= this index (0 disables masking)")
	flags.StringVar(&f.output, "output", "", "write output and attention weights to this safetensors file")
	return cmd
}

func runBlock(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	cfg, err := g.resolve(cmd)
	if err != nil {
		return err
	}
	rc, err := cfg.Run()
	if err != nil {
		return err
	}

	backend := newBackend(cfg)
	m, err := buildBlock(cfg, backend)
	if err != nil {
		return err
	}

	x, err := runInput(f, cfg.Model.DModel, backend)
	if err != nil {
		return err
	}
	mask := paddingMask(x.Shape(), f.padFrom, backend)

	start := time.Now()
	out, weights, err := m.ForwardWithWeights(rc, x, mask)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "input      %v\n", x.Shape())
	fmt.Fprintf(w, "output     %v\n", out.Shape())
	fmt.Fprintf(w, "weights    %v\n", weights.Shape())
	fmt.Fprintf(w, "parameters %s\n", humanize.Comma(int64(nn.NumParameters[*cpu.CPUBackend](m))))
	fmt.Fprintf(w, "elapsed    %s\n", elapsed.Round(time.Microsecond))
	writeStats(w, out.Data())

	if f.output != "" {
		state := map[string]*tensor.RawTensor{
			"output":  out.Raw(),
			"weights": weights.Raw(),
		}
		meta := map[string]string{"config": fmt.Sprintf("%+v", cfg.Model)}
		if err := loader.WriteSafeTensors(f.output, state, meta); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote      %s\n", f.output)
	}
	return nil
}

// runInput reads the input tensor or draws a random one.
func runInput(f *runFlags, dModel int, backend *cpu.CPUBackend) (*tensor.Tensor[float32, *cpu.CPUBackend], error) {
	if f.input == "" {
		if f.batch <= 0 || f.time <= 0 {
			return nil, errors.Errorf("batch and time must be positive, got %d and %d", f.batch, f.time)
		}
		rng := rand.New(rand.NewSource(f.seed)) //nolint:gosec // sample data
		return tensor.Randn[float32](tensor.Shape{f.batch, f.time, dModel}, rng, backend), nil
	}

	state, _, err := loader.ReadSafeTensors(f.input)
	if err != nil {
		return nil, err
	}
	raw, ok := state[f.inputName]
	if !ok {
		return nil, errors.Wrapf(loader.ErrTensorNotFound, "%s in %s", f.inputName, f.input)
	}
	if raw.DType() != tensor.Float32 {
		return nil, errors.Errorf("input %s must be float32, got %s", f.inputName, raw.DType())
	}
	return tensor.New[float32](raw, backend), nil
}

// paddingMask marks key positions >= padFrom in every sequence as [B, 1, T].
func paddingMask(shape tensor.Shape, padFrom int, backend *cpu.CPUBackend) *tensor.Tensor[bool, *cpu.CPUBackend] {
	if padFrom <= 0 || len(shape) != 3 || padFrom >= shape[1] {
		return nil
	}
	batch, steps := shape[0], shape[1]
	mask := tensor.Zeros[bool](tensor.Shape{batch, 1, steps}, backend)
	data := mask.Data()
	for b := 0; b < batch; b++ {
		for j := padFrom; j < steps; j++ {
			data[b*steps+j] = true
		}
	}
	return mask
}

func writeStats(w io.Writer, data []float32) {
	var sum, sumSq, absMax float64
	for _, v := range data {
		x := float64(v)
		sum += x
		sumSq += x * x
		absMax = math.Max(absMax, math.Abs(x))
	}
	n := float64(len(data))
	mean := sum / n
	std := math.Sqrt(math.Max(sumSq/n-mean*mean, 0))
	fmt.Fprintf(w, "stats      mean=%.6f std=%.6f absmax=%.6f\n", mean, std, absMax)
}
