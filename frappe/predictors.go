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
	"reflect"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
)

func init() {
	RegisterPredictor("popularity", newPopularityPredictor)
	RegisterPredictor("recency", newRecencyPredictor)
	RegisterPredictor("co_occurrence", newCoOccurrencePredictor)
	RegisterPredictor("expression", newExpressionPredictor)
}

const streamBatchSize = 1000

// popularityPredictor scores items by how many users currently hold them.
// Scores are computed when the module is loaded and refreshed when the
// resolver cache expires.
type popularityPredictor struct {
	scores []cache.Scored
}

func newPopularityPredictor(ctx context.Context, store data.Database, _ map[string]any) (Predictor, error) {
	counts, err := store.CountAcquisitions(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	scores := make([]cache.Scored, 0, len(counts))
	for itemId, count := range counts {
		scores = append(scores, cache.Scored{ItemId: itemId, Score: float64(count)})
	}
	return &popularityPredictor{scores: topN(scores, len(scores))}, nil
}

func (p *popularityPredictor) Predict(_ context.Context, _ string, n int) ([]cache.Scored, error) {
	if len(p.scores) > n {
		return p.scores[:n], nil
	}
	return p.scores, nil
}

type recencyParams struct {
	HalfLifeDays float64 `mapstructure:"half_life_days"`
}

// recencyPredictor scores items by acquisition recency: every entry still in
// a user's inventory contributes an exponentially decayed unit, halving every
// half_life_days. Dropped entries are excluded, like in popularity and
// co_occurrence.
type recencyPredictor struct {
	scores []cache.Scored
}

func newRecencyPredictor(ctx context.Context, store data.Database, params map[string]any) (Predictor, error) {
	p := recencyParams{HalfLifeDays: 30}
	if err := decodeParams(params, &p); err != nil {
		return nil, errors.Trace(err)
	}
	if p.HalfLifeDays <= 0 {
		return nil, errors.NotValidf("half_life_days %v", p.HalfLifeDays)
	}
	now := time.Now()
	weights := make(map[string]float64)
	entryChan, errChan := store.GetInventoryStream(ctx, streamBatchSize)
	for batch := range entryChan {
		for _, entry := range batch {
			if entry.Dropped() {
				continue
			}
			ageDays := now.Sub(entry.AcquisitionDate).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			weights[entry.ItemId] += math.Exp2(-ageDays / p.HalfLifeDays)
		}
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	scores := make([]cache.Scored, 0, len(weights))
	for itemId, weight := range weights {
		scores = append(scores, cache.Scored{ItemId: itemId, Score: weight})
	}
	return &recencyPredictor{scores: topN(scores, len(scores))}, nil
}

func (p *recencyPredictor) Predict(_ context.Context, _ string, n int) ([]cache.Scored, error) {
	if len(p.scores) > n {
		return p.scores[:n], nil
	}
	return p.scores, nil
}

type coOccurrenceParams struct {
	MaxUserItems int `mapstructure:"max_user_items"`
}

// coOccurrencePredictor is an item-to-item collaborative predictor: candidate
// items are scored by their cosine-normalized co-acquisition counts with the
// items the user holds.
type coOccurrencePredictor struct {
	store  data.Database
	counts map[string]int
	matrix map[string]map[string]float64
}

func newCoOccurrencePredictor(ctx context.Context, store data.Database, params map[string]any) (Predictor, error) {
	p := coOccurrenceParams{MaxUserItems: 500}
	if err := decodeParams(params, &p); err != nil {
		return nil, errors.Trace(err)
	}
	// group inventory by user; the stream is ordered by user id
	counts := make(map[string]int)
	matrix := make(map[string]map[string]float64)
	var currentUser string
	var held []string
	flush := func() {
		// pathological users blur the matrix and blow up the pairwise loop
		if len(held) > p.MaxUserItems {
			held = held[:0]
			return
		}
		for _, itemId := range held {
			counts[itemId]++
		}
		for i := 0; i < len(held); i++ {
			for j := i + 1; j < len(held); j++ {
				a, b := held[i], held[j]
				if matrix[a] == nil {
					matrix[a] = make(map[string]float64)
				}
				if matrix[b] == nil {
					matrix[b] = make(map[string]float64)
				}
				matrix[a][b]++
				matrix[b][a]++
			}
		}
		held = held[:0]
	}
	entryChan, errChan := store.GetInventoryStream(ctx, streamBatchSize)
	for batch := range entryChan {
		for _, entry := range batch {
			if entry.Dropped() {
				continue
			}
			if entry.UserId != currentUser {
				flush()
				currentUser = entry.UserId
			}
			held = append(held, entry.ItemId)
		}
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	flush()
	return &coOccurrencePredictor{store: store, counts: counts, matrix: matrix}, nil
}

func (p *coOccurrencePredictor) Predict(ctx context.Context, userId string, n int) ([]cache.Scored, error) {
	inventory, err := p.store.GetUserInventory(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	weights := make(map[string]float64)
	for _, entry := range inventory {
		if entry.Dropped() {
			continue
		}
		for candidate, count := range p.matrix[entry.ItemId] {
			norm := math.Sqrt(float64(p.counts[entry.ItemId]) * float64(p.counts[candidate]))
			if norm > 0 {
				weights[candidate] += count / norm
			}
		}
	}
	scores := make([]cache.Scored, 0, len(weights))
	for itemId, weight := range weights {
		scores = append(scores, cache.Scored{ItemId: itemId, Score: weight})
	}
	return topN(scores, n), nil
}

type expressionParams struct {
	Expr string `mapstructure:"expr"`
}

// expressionPredictor scores the whole catalog with a compiled expression.
// The expression sees the item, its genres and locales, and its holder count.
type expressionPredictor struct {
	store   data.Database
	program *vm.Program
	owners  map[string]int
}

func exprEnv() map[string]any {
	return map[string]any{
		"item":    data.Item{},
		"genres":  []string{},
		"locales": []string{},
		"owners":  0,
	}
}

func newExpressionPredictor(ctx context.Context, store data.Database, params map[string]any) (Predictor, error) {
	p := expressionParams{}
	if err := decodeParams(params, &p); err != nil {
		return nil, errors.Trace(err)
	}
	if p.Expr == "" {
		return nil, errors.NotValidf("empty expression")
	}
	program, err := expr.Compile(p.Expr, expr.Env(exprEnv()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch program.Node().Type().Kind() {
	case reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, errors.Errorf("score expression must return a number")
	}
	owners, err := store.CountAcquisitions(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &expressionPredictor{store: store, program: program, owners: owners}, nil
}

func (p *expressionPredictor) Predict(ctx context.Context, _ string, n int) ([]cache.Scored, error) {
	var scores []cache.Scored
	cursor := ""
	for {
		next, items, err := p.store.GetItems(ctx, cursor, streamBatchSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(items) == 0 {
			break
		}
		itemIds := make([]string, len(items))
		for i, item := range items {
			itemIds[i] = item.ItemId
		}
		genres, err := p.store.GetItemGenres(ctx, itemIds)
		if err != nil {
			return nil, errors.Trace(err)
		}
		locales, err := p.store.GetItemLocales(ctx, itemIds)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, item := range items {
			result, err := expr.Run(p.program, map[string]any{
				"item":    item,
				"genres":  genres[item.ItemId],
				"locales": locales[item.ItemId],
				"owners":  p.owners[item.ItemId],
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			score, err := toFloat(result)
			if err != nil {
				return nil, errors.Trace(err)
			}
			scores = append(scores, cache.Scored{ItemId: item.ItemId, Score: score})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return topN(scores, n), nil
}

func toFloat(result any) (float64, error) {
	switch typed := result.(type) {
	case float64:
		return typed, nil
	case int:
		return float64(typed), nil
	case int8:
		return float64(typed), nil
	case int16:
		return float64(typed), nil
	case int32:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	default:
		return 0, errors.Errorf("score expression must return a number, got %T", result)
	}
}
