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

package frappe

import (
	"context"
	"math"
	"sort"

	"github.com/frappe-io/frappe/base/log"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// candidateMultiple is how many times the requested size each predictor is
// asked for, so that filters have headroom to drop candidates.
const candidateMultiple = 3

type weightedPredictor struct {
	name      string
	weight    float64
	predictor Predictor
}

// Module is a loaded recommendation module: weighted predictors whose scores
// are aggregated, then piped through filters and re-rankers.
type Module struct {
	name       string
	predictors []weightedPredictor
	filters    []Filter
	rerankers  []Reranker
}

// LoadModule resolves every configured predictor, filter and re-ranker kind
// against the registry and builds their instances.
func LoadModule(ctx context.Context, store data.Database, config data.Module) (*Module, error) {
	if len(config.Predictors) == 0 {
		return nil, errors.Errorf("module %q has no predictors", config.Name)
	}
	module := &Module{name: config.Name}
	for _, predictorConfig := range config.Predictors {
		predictor, err := buildPredictor(ctx, store, predictorConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "module %q", config.Name)
		}
		weight := 1.0
		if predictorConfig.Weight != nil {
			weight = *predictorConfig.Weight
		}
		module.predictors = append(module.predictors, weightedPredictor{
			name:      predictorConfig.Name,
			weight:    weight,
			predictor: predictor,
		})
	}
	for _, filterConfig := range config.Filters {
		filter, err := buildFilter(ctx, store, filterConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "module %q", config.Name)
		}
		module.filters = append(module.filters, filter)
	}
	for _, rerankerConfig := range config.Rerankers {
		reranker, err := buildReranker(ctx, store, rerankerConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "module %q", config.Name)
		}
		module.rerankers = append(module.rerankers, reranker)
	}
	return module, nil
}

func (m *Module) Name() string {
	return m.name
}

// PredictScores runs the full pipeline for a user: every predictor is invoked
// with headroom over the requested size, scores are aggregated by weight, then
// filters and re-rankers are applied in order. The result holds at most n
// items and may hold fewer after filtering.
func (m *Module) PredictScores(ctx context.Context, userId string, n int) ([]cache.Scored, error) {
	aggregated := make(map[string]float64)
	for _, wp := range m.predictors {
		scores, err := wp.predictor.Predict(ctx, userId, n*candidateMultiple)
		if err != nil {
			return nil, errors.Annotatef(err, "predictor %q", wp.name)
		}
		for _, scored := range scores {
			if math.IsNaN(scored.Score) || math.IsInf(scored.Score, 0) {
				log.Logger().Warn("dropped invalid score",
					zap.String("module", m.name),
					zap.String("predictor", wp.name),
					zap.String("item_id", scored.ItemId))
				continue
			}
			aggregated[scored.ItemId] += wp.weight * scored.Score
		}
	}
	recommendation := make([]cache.Scored, 0, len(aggregated))
	for itemId, score := range aggregated {
		recommendation = append(recommendation, cache.Scored{ItemId: itemId, Score: score})
	}
	sort.Slice(recommendation, func(i, j int) bool {
		if recommendation[i].Score != recommendation[j].Score {
			return recommendation[i].Score > recommendation[j].Score
		}
		return recommendation[i].ItemId < recommendation[j].ItemId
	})
	var err error
	for _, filter := range m.filters {
		if recommendation, err = filter.Filter(ctx, userId, recommendation, n); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, reranker := range m.rerankers {
		if recommendation, err = reranker.Rerank(ctx, userId, recommendation, n); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if len(recommendation) > n {
		recommendation = recommendation[:n]
	}
	return recommendation, nil
}
