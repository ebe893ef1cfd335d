// Package config loads the YAML configuration shared by the relattn CLI
// commands: model hyperparameters plus runtime settings.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/relattn/internal/nn"
	"github.com/born-ml/relattn/internal/tensor"
)

// Config is the root of a configuration file.
//
// Example:
//
//	model:
//	  d_model: 256
//	  n_heads: 4
//	  dropout: 0.1
//	  projection: shared_query
//	runtime:
//	  device: cpu
//	  precision: fp16
type Config struct {
	Model   Model   `yaml:"model"`
	Runtime Runtime `yaml:"runtime"`
}

// Model holds the attention hyperparameters.
type Model struct {
	DModel       int     `yaml:"d_model"`
	NHeads       int     `yaml:"n_heads"`
	Dropout      float64 `yaml:"dropout"`
	Projection   string  `yaml:"projection"` // shared_query | distinct
	Scale        string  `yaml:"scale"`      // d_model | d_head
	MaxLen       int     `yaml:"max_len"`
	LayerNormEps float64 `yaml:"layer_norm_eps"`
	Seed         int64   `yaml:"seed"`
}

// Runtime holds per-run settings.
type Runtime struct {
	Device     string `yaml:"device"`
	Training   bool   `yaml:"training"`
	Workers    int    `yaml:"workers"`    // 0 uses every CPU
	Precision  string `yaml:"precision"`  // fp32 | fp16 | bf16
	Checkpoint string `yaml:"checkpoint"` // optional weights file
	Prefix     string `yaml:"prefix"`     // stripped from checkpoint keys
}

// Default returns the reference configuration.
func Default() Config {
	d := nn.DefaultSelfAttentionConfig()
	return Config{
		Model: Model{
			DModel:       d.DModel,
			NHeads:       d.NHeads,
			Dropout:      d.DropoutP,
			Projection:   d.Projection.String(),
			Scale:        d.Scale.String(),
			MaxLen:       d.MaxLen,
			LayerNormEps: d.LayerNormEps,
			Seed:         d.Seed,
		},
		Runtime: Runtime{
			Device:    tensor.CPU.String(),
			Precision: tensor.FP32.String(),
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	//nolint:gosec // G304: config path comes from the user
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(data) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, errors.Wrap(err, "failed to parse config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field by building the derived configurations.
func (c Config) Validate() error {
	if _, err := c.SelfAttention(); err != nil {
		return err
	}
	if _, err := c.Run(); err != nil {
		return err
	}
	if _, err := c.Precision(); err != nil {
		return err
	}
	if c.Runtime.Workers < 0 {
		return errors.Wrapf(nn.ErrInvalidConfig, "workers must be >= 0, got %d", c.Runtime.Workers)
	}
	return nil
}

// SelfAttention converts the model section to an nn configuration.
func (c Config) SelfAttention() (nn.SelfAttentionConfig, error) {
	projection, err := nn.ParseProjection(c.Model.Projection)
	if err != nil {
		return nn.SelfAttentionConfig{}, err
	}
	scale, err := nn.ParseScale(c.Model.Scale)
	if err != nil {
		return nn.SelfAttentionConfig{}, err
	}

	cfg := nn.SelfAttentionConfig{
		AttentionConfig: nn.AttentionConfig{
			DModel:     c.Model.DModel,
			NHeads:     c.Model.NHeads,
			DropoutP:   c.Model.Dropout,
			Projection: projection,
			Scale:      scale,
			Seed:       c.Model.Seed,
		},
		MaxLen:       c.Model.MaxLen,
		LayerNormEps: c.Model.LayerNormEps,
	}
	if err := cfg.Validate(); err != nil {
		return nn.SelfAttentionConfig{}, err
	}
	return cfg, nil
}

// Run converts the runtime section to an nn.RunConfig.
func (c Config) Run() (nn.RunConfig, error) {
	device, err := tensor.ParseDevice(c.Runtime.Device)
	if err != nil {
		return nn.RunConfig{}, errors.Wrap(nn.ErrInvalidConfig, err.Error())
	}
	return nn.RunConfig{Device: device, Training: c.Runtime.Training}, nil
}

// Precision returns the parameter storage precision.
func (c Config) Precision() (tensor.Precision, error) {
	p, err := tensor.ParsePrecision(c.Runtime.Precision)
	if err != nil {
		return tensor.FP32, errors.Wrap(nn.ErrInvalidConfig, err.Error())
	}
	return p, nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
