package main

import (
	"flag"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/born-ml/relattn/internal/backend/cpu"
	"github.com/born-ml/relattn/internal/config"
	"github.com/born-ml/relattn/internal/loader"
	"github.com/born-ml/relattn/internal/nn"
)

type block = nn.MultiHeadedSelfAttentionModule[*cpu.CPUBackend]

// globalFlags are shared by every subcommand and override the config file.
type globalFlags struct {
	configPath string
	checkpoint string
	prefix     string
	device     string
	precision  string
	workers    int
	training   bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "relattn",
		Short:         "Relative-position multi-head self-attention",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&g.checkpoint, "checkpoint", "", "weights file (.safetensors, .pt, .bin)")
	pf.StringVar(&g.prefix, "prefix", "", "prefix stripped from checkpoint keys, e.g. encoder.layers.0.self_attn.")
	pf.StringVar(&g.device, "device", "", "compute device (cpu)")
	pf.StringVar(&g.precision, "precision", "", "parameter precision: fp32, fp16, bf16")
	pf.IntVar(&g.workers, "workers", -1, "goroutines for batched kernels (0 = all CPUs)")
	pf.BoolVar(&g.training, "training", false, "enable dropout")

	root.AddCommand(
		newRunCmd(&g),
		newInspectCmd(&g),
		newConvertCmd(&g),
		newVersionCmd(),
	)
	return root
}

// resolve loads the config file (or defaults) and applies flag overrides.
func (g *globalFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("checkpoint") {
		cfg.Runtime.Checkpoint = g.checkpoint
	}
	if flags.Changed("prefix") {
		cfg.Runtime.Prefix = g.prefix
	}
	if flags.Changed("device") {
		cfg.Runtime.Device = g.device
	}
	if flags.Changed("precision") {
		cfg.Runtime.Precision = g.precision
	}
	if flags.Changed("workers") {
		cfg.Runtime.Workers = g.workers
	}
	if flags.Changed("training") {
		cfg.Runtime.Training = g.training
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newBackend builds the CPU backend for cfg.
func newBackend(cfg config.Config) *cpu.CPUBackend {
	if cfg.Runtime.Workers > 0 {
		return cpu.New(cpu.WithWorkers(cfg.Runtime.Workers))
	}
	return cpu.New()
}

// buildBlock constructs the module, loads the checkpoint when configured and
// applies the storage precision.
func buildBlock(cfg config.Config, backend *cpu.CPUBackend) (*block, error) {
	saCfg, err := cfg.SelfAttention()
	if err != nil {
		return nil, err
	}
	m, err := nn.NewMultiHeadedSelfAttentionModule(saCfg, backend)
	if err != nil {
		return nil, err
	}

	if path := cfg.Runtime.Checkpoint; path != "" {
		state, err := loader.Load(path)
		if err != nil {
			return nil, err
		}
		if cfg.Runtime.Prefix != "" {
			state = nn.StripPrefix(state, cfg.Runtime.Prefix)
		}
		if err := m.LoadStateDict(state); err != nil {
			return nil, errors.Wrapf(err, "loading %s", path)
		}
		klog.V(1).Infof("loaded checkpoint %s", path)
	}

	precision, err := cfg.Precision()
	if err != nil {
		return nil, err
	}
	nn.SetPrecision[*cpu.CPUBackend](m, precision)

	return m, nil
}
