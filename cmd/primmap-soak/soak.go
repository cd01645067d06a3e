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
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/primmap"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var errMismatch = errors.New("primmap-soak: map disagrees with oracle")

// run soaks cfg.Workload.Rounds maps on a pool of cfg.Workload.Workers
// goroutines and returns the combined errors of the failed rounds.
func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	var mu sync.Mutex
	var result error
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result = errors.CombineErrors(result, err)
	}

	pool, err := ants.NewPool(cfg.Workload.Workers, ants.WithPanicHandler(func(p interface{}) {
		record(errors.Newf("round panicked: %v", p))
	}))
	if err != nil {
		return errors.Wrap(err, "creating worker pool")
	}
	defer func() {
		if err := pool.ReleaseTimeout(5 * time.Second); err != nil {
			logger.Warn("worker pool did not drain", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workload.Rounds; i++ {
		seed := cfg.Workload.Seed + int64(i)
		roundLogger := logger.With(zap.Int("round", i), zap.Int64("seed", seed))
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			start := time.Now()
			if err := soakRound(ctx, cfg, seed, roundLogger); err != nil {
				roundLogger.Error("round failed", zap.Error(err))
				record(err)
				return
			}
			roundLogger.Info("round passed", zap.Duration("duration", time.Since(start)))
		}); err != nil {
			wg.Done()
			record(errors.Wrap(err, "submitting round"))
			break
		}
	}
	wg.Wait()
	return result
}

// round is a single map checked against a builtin map.
type round struct {
	rng    *rand.Rand
	m      *primmap.Map[uint32, uint64]
	oracle map[uint32]uint64
	sweeps int
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func newRoundMap(cfg Config, logger *zap.Logger) *primmap.Map[uint32, uint64] {
	return primmap.New[uint32, uint64](0,
		primmap.WithConfig[uint32, uint64](cfg.Map),
		primmap.WithLogger[uint32, uint64](logger))
}

func soakRound(ctx context.Context, cfg Config, seed int64, logger *zap.Logger) error {
	r := &round{
		rng:    newRand(seed),
		m:      newRoundMap(cfg, logger),
		oracle: make(map[uint32]uint64),
	}
	defer r.m.Close()

	keySpace := int64(cfg.Workload.KeySpace)
	for i := 0; i < cfg.Workload.Ops; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k := uint32(r.rng.Int63n(keySpace))
		if err := r.step(k); err != nil {
			return errors.Wrapf(err, "op %d", i)
		}
	}
	if err := r.verify(); err != nil {
		return err
	}
	logger.Debug("round summary",
		zap.Int("size", r.m.Len()), zap.Int("sweeps", r.sweeps))
	return nil
}

func (r *round) step(k uint32) error {
	switch p := r.rng.Intn(100); {
	case p < 40:
		v := r.rng.Uint64()
		r.m.Put(k, v)
		r.oracle[k] = v
	case p < 60:
		got, ok := r.m.Remove(k)
		want, wantOK := r.oracle[k]
		if ok != wantOK || got != want {
			return errors.Wrapf(errMismatch, "remove(%d) = %d,%t; want %d,%t", k, got, ok, want, wantOK)
		}
		delete(r.oracle, k)
	case p < 75:
		primmap.AddTo(r.m, k, 1)
		if r.oracle[k]++; r.oracle[k] == 0 {
			delete(r.oracle, k)
		}
	case p < 97:
		got, ok := r.m.Lookup(k)
		want, wantOK := r.oracle[k]
		if ok != wantOK || got != want {
			return errors.Wrapf(errMismatch, "lookup(%d) = %d,%t; want %d,%t", k, got, ok, want, wantOK)
		}
	case p < 99:
		return r.sweep()
	default:
		r.m.Trim()
		return r.verify()
	}
	return nil
}

// sweep iterates over the map removing about half of the entries through
// the iterator. Every key must be visited exactly once.
func (r *round) sweep() error {
	r.sweeps++
	expected := roaring.New()
	for k := range r.oracle {
		expected.Add(k)
	}

	visited := roaring.New()
	it := r.m.Iter()
	for it.Next() {
		k := it.Key()
		if !visited.CheckedAdd(k) {
			return errors.Wrapf(errMismatch, "sweep visited %d twice", k)
		}
		if want := r.oracle[k]; it.Value() != want {
			return errors.Wrapf(errMismatch, "sweep saw %d=>%d; want %d", k, it.Value(), want)
		}
		if r.rng.Intn(2) == 0 {
			if err := it.Remove(); err != nil {
				return err
			}
			delete(r.oracle, k)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if !visited.Equals(expected) {
		missing := roaring.AndNot(expected, visited)
		return errors.Wrapf(errMismatch, "sweep visited %d keys; want %d (missing %v)",
			visited.GetCardinality(), expected.GetCardinality(), missing.ToArray())
	}
	return r.verify()
}

func (r *round) verify() error {
	if r.m.Len() != len(r.oracle) {
		return errors.Wrapf(errMismatch, "len = %d; want %d", r.m.Len(), len(r.oracle))
	}
	var err error
	r.m.All(func(k uint32, v uint64) bool {
		if want, ok := r.oracle[k]; !ok || want != v {
			err = errors.Wrapf(errMismatch, "%d=>%d; want %d (present=%t)", k, v, want, ok)
			return false
		}
		return true
	})
	return err
}
