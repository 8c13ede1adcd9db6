package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Builder assembles a Config: defaults, then the YAML file, then environment
// variables, then validation. Every source is optional.
type Builder struct {
	file        string
	dotEnv      []string
	useEnv      bool
	environment map[string]string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithFile merges a YAML file over the defaults. Keys absent from the file
// keep their default values.
func (b *Builder) WithFile(path string) *Builder {
	b.file = path
	return b
}

// WithDotEnv reads variables from .env style files. Variables already set in
// the environment take precedence. Missing files are skipped.
func (b *Builder) WithDotEnv(paths ...string) *Builder {
	b.dotEnv = append(b.dotEnv, paths...)
	return b
}

// WithEnv applies PROFIT_* variables from the process environment.
func (b *Builder) WithEnv() *Builder {
	b.useEnv = true
	return b
}

// WithEnvironment applies PROFIT_* variables from m instead of the process
// environment.
func (b *Builder) WithEnvironment(m map[string]string) *Builder {
	b.useEnv = true
	b.environment = m
	return b
}

func (b *Builder) Build() (Config, error) {
	const operation = "config.Build"

	cfg := Defaults()

	if b.file != "" {
		if err := mergeFile(&cfg, b.file); err != nil {
			return Config{}, fmt.Errorf("%s: %w", operation, err)
		}
	}

	if b.useEnv || len(b.dotEnv) > 0 {
		vars, err := b.variables()
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", operation, err)
		}
		if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars, Prefix: EnvPrefix}); err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse environment: %w", operation, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: invalid configuration: %w", operation, err)
	}
	return cfg, nil
}

// Load is the usual entry point: optional YAML file, .env in the working
// directory and the process environment.
func Load(path string) (Config, error) {
	return NewBuilder().WithFile(path).WithDotEnv(".env").WithEnv().Build()
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (b *Builder) variables() (map[string]string, error) {
	vars := make(map[string]string)

	for _, path := range b.dotEnv {
		values, err := godotenv.Read(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		maps.Copy(vars, values)
	}

	if !b.useEnv {
		return vars, nil
	}
	if b.environment != nil {
		maps.Copy(vars, b.environment)
		return vars, nil
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars, nil
}
