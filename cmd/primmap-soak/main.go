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

// primmap-soak runs randomized workloads against primmap maps and checks
// every result against Go's builtin map.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "", "path to a TOML configuration file")
	seed       = flag.Int64("seed", 0, "base seed, overrides workload.seed (0 keeps the configured seed)")
	workers    = flag.Int("workers", 0, "worker pool size, overrides workload.workers")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Workload.Seed = *seed
	}
	if cfg.Workload.Seed == 0 {
		cfg.Workload.Seed = time.Now().UnixNano()
	}
	if *workers != 0 {
		cfg.Workload.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("starting soak",
		zap.Int("workers", cfg.Workload.Workers),
		zap.Int("rounds", cfg.Workload.Rounds),
		zap.Int("ops", cfg.Workload.Ops),
		zap.Int64("seed", cfg.Workload.Seed))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("soak failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
	logger.Info("soak passed")
}
