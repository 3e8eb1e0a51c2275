// Copyright 2024 frappe Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package frappe composes recommendation modules from dynamically resolved
// predictors, filters and re-rankers.
package frappe

import (
	"context"
	"sort"
	"sync"

	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
)

// Predictor scores candidate items for a user. Implementations may hold model
// state built from the store when the module is loaded.
type Predictor interface {
	Predict(ctx context.Context, userId string, n int) ([]cache.Scored, error)
}

// Filter removes candidates from a recommendation.
type Filter interface {
	Filter(ctx context.Context, userId string, scores []cache.Scored, n int) ([]cache.Scored, error)
}

// Reranker reorders a recommendation.
type Reranker interface {
	Rerank(ctx context.Context, userId string, scores []cache.Scored, n int) ([]cache.Scored, error)
}

type (
	PredictorBuilder func(ctx context.Context, store data.Database, params map[string]any) (Predictor, error)
	FilterBuilder    func(ctx context.Context, store data.Database, params map[string]any) (Filter, error)
	RerankerBuilder  func(ctx context.Context, store data.Database, params map[string]any) (Reranker, error)
)

var (
	registryMu        sync.RWMutex
	predictorBuilders = make(map[string]PredictorBuilder)
	filterBuilders    = make(map[string]FilterBuilder)
	rerankerBuilders  = make(map[string]RerankerBuilder)
)

// RegisterPredictor registers a predictor kind. Built-in kinds register
// themselves in init.
func RegisterPredictor(kind string, builder PredictorBuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	predictorBuilders[kind] = builder
}

func RegisterFilter(kind string, builder FilterBuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	filterBuilders[kind] = builder
}

func RegisterReranker(kind string, builder RerankerBuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	rerankerBuilders[kind] = builder
}

func buildPredictor(ctx context.Context, store data.Database, config data.PredictorConfig) (Predictor, error) {
	registryMu.RLock()
	builder, exist := predictorBuilders[config.Kind]
	registryMu.RUnlock()
	if !exist {
		return nil, errors.Errorf("unknown predictor kind %q (supported: %v)", config.Kind, SupportedPredictors())
	}
	return builder(ctx, store, config.Params)
}

func buildFilter(ctx context.Context, store data.Database, config data.StageConfig) (Filter, error) {
	registryMu.RLock()
	builder, exist := filterBuilders[config.Kind]
	registryMu.RUnlock()
	if !exist {
		return nil, errors.Errorf("unknown filter kind %q (supported: %v)", config.Kind, SupportedFilters())
	}
	return builder(ctx, store, config.Params)
}

func buildReranker(ctx context.Context, store data.Database, config data.StageConfig) (Reranker, error) {
	registryMu.RLock()
	builder, exist := rerankerBuilders[config.Kind]
	registryMu.RUnlock()
	if !exist {
		return nil, errors.Errorf("unknown re-ranker kind %q (supported: %v)", config.Kind, SupportedRerankers())
	}
	return builder(ctx, store, config.Params)
}

// SupportedPredictors returns the registered predictor kinds in order.
func SupportedPredictors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(predictorBuilders)
}

func SupportedFilters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(filterBuilders)
}

func SupportedRerankers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedKeys(rerankerBuilders)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
