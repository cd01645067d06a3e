// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/primmap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the soak configuration file.
type Config struct {
	Map      primmap.Config `toml:"map"`
	Workload WorkloadConfig `toml:"workload"`
	Log      LogConfig      `toml:"log"`
}

// WorkloadConfig describes the randomized operations each round performs.
type WorkloadConfig struct {
	// Workers is the size of the goroutine pool running rounds.
	Workers int `toml:"workers"`
	// Rounds is the number of independent maps to soak.
	Rounds int `toml:"rounds"`
	// Ops is the number of operations per round.
	Ops int `toml:"ops"`
	// KeySpace bounds the keys to [0, KeySpace). Small key spaces produce
	// more hits and more removals.
	KeySpace uint32 `toml:"key-space"`
	// Seed is the base seed; round i uses Seed+i.
	Seed int64 `toml:"seed"`
}

// LogConfig configures the logger. An empty Filename logs to stderr.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"`
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`
}

func defaultConfig() Config {
	return Config{
		Workload: WorkloadConfig{
			Workers:  4,
			Rounds:   16,
			Ops:      100000,
			KeySpace: 4096,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			MaxSize: 512,
		},
	}
}

// loadConfig returns the default configuration overlaid with the file at
// path, if path is not empty.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "decoding %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be soaked.
func (c Config) Validate() error {
	if err := c.Map.Validate(); err != nil {
		return errors.Wrap(err, "map")
	}
	w := c.Workload
	if w.Workers <= 0 {
		return errors.Newf("workload: workers must be positive, got %d", w.Workers)
	}
	if w.Rounds <= 0 {
		return errors.Newf("workload: rounds must be positive, got %d", w.Rounds)
	}
	if w.Ops < 0 {
		return errors.Newf("workload: ops must not be negative, got %d", w.Ops)
	}
	if w.KeySpace == 0 {
		return errors.New("workload: key-space must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Newf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

func (c LogConfig) getEncoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if c.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func (c LogConfig) getSyncer() zapcore.WriteSyncer {
	if c.Filename == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.Filename,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxDays,
		MaxBackups: c.MaxBackups,
		LocalTime:  true,
	})
}

// build returns a logger for c.
func (c LogConfig) build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log")
	}
	core := zapcore.NewCore(c.getEncoder(), c.getSyncer(), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel)), nil
}
