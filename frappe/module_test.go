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
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type PipelineTestSuite struct {
	suite.Suite
	store data.Database
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (suite *PipelineTestSuite) SetupSuite() {
	var err error
	path := fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir())
	suite.store, err = data.Open(path, "frappe_")
	suite.NoError(err)
	suite.NoError(suite.store.Init())
}

func (suite *PipelineTestSuite) TearDownSuite() {
	suite.NoError(suite.store.Close())
}

func (suite *PipelineTestSuite) SetupTest() {
	ctx := context.Background()
	suite.NoError(suite.store.Purge())
	suite.NoError(suite.store.BatchInsertItems(ctx, []data.Item{
		{ItemId: "a", Name: "alpha"},
		{ItemId: "b", Name: "beta"},
		{ItemId: "c", Name: "gamma"},
		{ItemId: "d", Name: "delta"},
		{ItemId: "e", Name: "epsilon"},
	}))
	suite.NoError(suite.store.BatchInsertUsers(ctx, []data.User{
		{UserId: "alice"}, {UserId: "bob"}, {UserId: "carol"},
	}))
	now := time.Now()
	suite.NoError(suite.store.BatchUpsertInventory(ctx, []data.Inventory{
		{UserId: "alice", ItemId: "a", AcquisitionDate: now.AddDate(0, 0, -1)},
		{UserId: "alice", ItemId: "b", AcquisitionDate: now.AddDate(0, 0, -2)},
		{UserId: "bob", ItemId: "a", AcquisitionDate: now.AddDate(0, 0, -30)},
		{UserId: "bob", ItemId: "c", AcquisitionDate: now.AddDate(0, 0, -60)},
		{UserId: "carol", ItemId: "a", AcquisitionDate: now.AddDate(0, 0, -3)},
		{UserId: "carol", ItemId: "b", AcquisitionDate: now.AddDate(0, 0, -4), DroppedDate: lo.ToPtr(now)},
	}))
	suite.NoError(suite.store.BatchInsertGenres(ctx, []data.Genre{
		{Name: "action"}, {Name: "puzzle"},
	}))
	suite.NoError(suite.store.BatchInsertItemGenres(ctx, []data.ItemGenre{
		{ItemId: "a", Genre: "action"},
		{ItemId: "b", Genre: "action"},
		{ItemId: "c", Genre: "puzzle"},
		{ItemId: "d", Genre: "action"},
		{ItemId: "e", Genre: "puzzle"},
	}))
	suite.NoError(suite.store.BatchInsertLocales(ctx, []data.Locale{
		{LanguageCode: "en", Name: "English"},
		{LanguageCode: "de", Name: "German"},
	}))
	suite.NoError(suite.store.BatchInsertItemLocales(ctx, []data.ItemLocale{
		{ItemId: "a", LanguageCode: "en"},
		{ItemId: "b", LanguageCode: "de"},
	}))
	suite.NoError(suite.store.BatchInsertUserLocales(ctx, []data.UserLocale{
		{UserId: "alice", LanguageCode: "en"},
	}))
}

func itemIds(scores []cache.Scored) []string {
	return lo.Map(scores, func(scored cache.Scored, _ int) string {
		return scored.ItemId
	})
}

func (suite *PipelineTestSuite) TestUnknownKinds() {
	ctx := context.Background()
	_, err := buildPredictor(ctx, suite.store, data.PredictorConfig{Kind: "bogus"})
	suite.ErrorContains(err, "unknown predictor kind")
	_, err = buildFilter(ctx, suite.store, data.StageConfig{Kind: "bogus"})
	suite.ErrorContains(err, "unknown filter kind")
	_, err = buildReranker(ctx, suite.store, data.StageConfig{Kind: "bogus"})
	suite.ErrorContains(err, "unknown re-ranker kind")
	suite.Contains(SupportedPredictors(), "popularity")
	suite.Contains(SupportedFilters(), "owned")
	suite.Contains(SupportedRerankers(), "shuffle_tail")
}

func (suite *PipelineTestSuite) TestPopularityPredictor() {
	ctx := context.Background()
	predictor, err := buildPredictor(ctx, suite.store, data.PredictorConfig{Kind: "popularity"})
	suite.NoError(err)
	scores, err := predictor.Predict(ctx, "alice", 10)
	suite.NoError(err)
	// carol dropped "b", so it counts once
	suite.Equal([]cache.Scored{
		{ItemId: "a", Score: 3},
		{ItemId: "b", Score: 1},
		{ItemId: "c", Score: 1},
	}, scores)
	scores, err = predictor.Predict(ctx, "alice", 1)
	suite.NoError(err)
	suite.Equal([]string{"a"}, itemIds(scores))
}

func (suite *PipelineTestSuite) TestRecencyPredictor() {
	ctx := context.Background()
	predictor, err := buildPredictor(ctx, suite.store, data.PredictorConfig{
		Kind:   "recency",
		Params: map[string]any{"half_life_days": 7},
	})
	suite.NoError(err)
	scores, err := predictor.Predict(ctx, "alice", 10)
	suite.NoError(err)
	// recent acquisitions outweigh bob's month-old ones
	suite.Equal([]string{"a", "b", "c"}, itemIds(scores))
	suite.Greater(scores[0].Score, scores[1].Score)
	// carol dropped "b", so only alice's two-day-old entry contributes
	suite.InDelta(math.Exp2(-2.0/7), scores[1].Score, 0.01)

	_, err = buildPredictor(ctx, suite.store, data.PredictorConfig{
		Kind:   "recency",
		Params: map[string]any{"half_life_days": 0},
	})
	suite.Error(err)
}

func (suite *PipelineTestSuite) TestCoOccurrencePredictor() {
	ctx := context.Background()
	predictor, err := buildPredictor(ctx, suite.store, data.PredictorConfig{Kind: "co_occurrence"})
	suite.NoError(err)
	// carol holds only "a", which co-occurs with "b" (alice) and "c" (bob)
	scores, err := predictor.Predict(ctx, "carol", 10)
	suite.NoError(err)
	suite.Equal([]string{"b", "c"}, itemIds(scores))
	suite.InDelta(scores[0].Score, scores[1].Score, 1e-9)
}

func (suite *PipelineTestSuite) TestExpressionPredictor() {
	ctx := context.Background()
	predictor, err := buildPredictor(ctx, suite.store, data.PredictorConfig{
		Kind:   "expression",
		Params: map[string]any{"expr": "owners * 2"},
	})
	suite.NoError(err)
	scores, err := predictor.Predict(ctx, "alice", 3)
	suite.NoError(err)
	suite.Equal([]cache.Scored{
		{ItemId: "a", Score: 6},
		{ItemId: "b", Score: 2},
		{ItemId: "c", Score: 2},
	}, scores)

	_, err = buildPredictor(ctx, suite.store, data.PredictorConfig{
		Kind:   "expression",
		Params: map[string]any{"expr": `item.Name == "alpha"`},
	})
	suite.ErrorContains(err, "must return a number")
	_, err = buildPredictor(ctx, suite.store, data.PredictorConfig{Kind: "expression"})
	suite.Error(err)
}

func (suite *PipelineTestSuite) TestOwnedFilter() {
	ctx := context.Background()
	filter, err := buildFilter(ctx, suite.store, data.StageConfig{Kind: "owned"})
	suite.NoError(err)
	scores := []cache.Scored{
		{ItemId: "a", Score: 3}, {ItemId: "b", Score: 2}, {ItemId: "c", Score: 1},
	}
	filtered, err := filter.Filter(ctx, "carol", scores, 10)
	suite.NoError(err)
	// carol dropped "b", so only the held "a" is removed
	suite.Equal([]string{"b", "c"}, itemIds(filtered))
}

func (suite *PipelineTestSuite) TestLocaleFilter() {
	ctx := context.Background()
	filter, err := buildFilter(ctx, suite.store, data.StageConfig{Kind: "locale"})
	suite.NoError(err)
	scores := []cache.Scored{
		{ItemId: "a", Score: 3}, {ItemId: "b", Score: 2}, {ItemId: "c", Score: 1},
	}
	// alice requires "en": the German "b" drops, the untagged "c" stays
	filtered, err := filter.Filter(ctx, "alice", append([]cache.Scored{}, scores...), 10)
	suite.NoError(err)
	suite.Equal([]string{"a", "c"}, itemIds(filtered))
	// bob has no locale rows and is unrestricted
	filtered, err = filter.Filter(ctx, "bob", append([]cache.Scored{}, scores...), 10)
	suite.NoError(err)
	suite.Equal([]string{"a", "b", "c"}, itemIds(filtered))
}

func (suite *PipelineTestSuite) TestExpressionFilter() {
	ctx := context.Background()
	filter, err := buildFilter(ctx, suite.store, data.StageConfig{
		Kind:   "expression",
		Params: map[string]any{"expr": `"puzzle" in genres`},
	})
	suite.NoError(err)
	scores := []cache.Scored{
		{ItemId: "a", Score: 3}, {ItemId: "c", Score: 2}, {ItemId: "e", Score: 1},
	}
	filtered, err := filter.Filter(ctx, "alice", scores, 10)
	suite.NoError(err)
	suite.Equal([]string{"c", "e"}, itemIds(filtered))

	_, err = buildFilter(ctx, suite.store, data.StageConfig{
		Kind:   "expression",
		Params: map[string]any{"expr": "owners * 2"},
	})
	suite.ErrorContains(err, "must return a boolean")
}

func (suite *PipelineTestSuite) TestGenreDiversityReranker() {
	ctx := context.Background()
	reranker, err := buildReranker(ctx, suite.store, data.StageConfig{
		Kind:   "genre_diversity",
		Params: map[string]any{"window": 2},
	})
	suite.NoError(err)
	scores := []cache.Scored{
		{ItemId: "a", Score: 5}, {ItemId: "b", Score: 4}, {ItemId: "c", Score: 3},
		{ItemId: "d", Score: 2}, {ItemId: "e", Score: 1},
	}
	reranked, err := reranker.Rerank(ctx, "alice", scores, 10)
	suite.NoError(err)
	// action runs are broken up by the puzzle items
	suite.Equal([]string{"a", "c", "b", "e", "d"}, itemIds(reranked))
}

func (suite *PipelineTestSuite) TestShuffleTailReranker() {
	ctx := context.Background()
	reranker, err := buildReranker(ctx, suite.store, data.StageConfig{
		Kind:   "shuffle_tail",
		Params: map[string]any{"head": 2},
	})
	suite.NoError(err)
	build := func() []cache.Scored {
		return []cache.Scored{
			{ItemId: "a", Score: 5}, {ItemId: "b", Score: 4}, {ItemId: "c", Score: 3},
			{ItemId: "d", Score: 2}, {ItemId: "e", Score: 1},
		}
	}
	first, err := reranker.Rerank(ctx, "alice", build(), 10)
	suite.NoError(err)
	second, err := reranker.Rerank(ctx, "alice", build(), 10)
	suite.NoError(err)
	// head is untouched, tail order is stable per user
	suite.Equal([]string{"a", "b"}, itemIds(first[:2]))
	suite.Equal(itemIds(first), itemIds(second))
	suite.ElementsMatch([]string{"c", "d", "e"}, itemIds(first[2:]))
}

func (suite *PipelineTestSuite) TestPredictScores() {
	ctx := context.Background()
	module, err := LoadModule(ctx, suite.store, data.Module{
		Name: "discovery",
		Predictors: []data.PredictorConfig{
			{Name: "popular", Kind: "popularity", Weight: lo.ToPtr(2.0)},
			{Name: "related", Kind: "co_occurrence"},
		},
		Filters: []data.StageConfig{{Kind: "owned"}},
	})
	suite.NoError(err)
	suite.Equal("discovery", module.Name())
	scores, err := module.PredictScores(ctx, "alice", 10)
	suite.NoError(err)
	// alice holds "a" and "b", leaving only "c"
	suite.Equal([]string{"c"}, itemIds(scores))
	suite.Greater(scores[0].Score, 0.0)

	_, err = LoadModule(ctx, suite.store, data.Module{Name: "empty"})
	suite.ErrorContains(err, "no predictors")
}

type fixedPredictor struct {
	scores []cache.Scored
}

func (p fixedPredictor) Predict(_ context.Context, _ string, _ int) ([]cache.Scored, error) {
	return p.scores, nil
}

func (suite *PipelineTestSuite) TestPredictScoresDropsInvalidScores() {
	ctx := context.Background()
	RegisterPredictor("unstable", func(_ context.Context, _ data.Database, _ map[string]any) (Predictor, error) {
		return fixedPredictor{scores: []cache.Scored{
			{ItemId: "a", Score: 1},
			{ItemId: "b", Score: math.NaN()},
			{ItemId: "c", Score: math.Inf(1)},
			{ItemId: "d", Score: math.Inf(-1)},
		}}, nil
	})
	module, err := LoadModule(ctx, suite.store, data.Module{
		Name:       "unstable",
		Predictors: []data.PredictorConfig{{Name: "u", Kind: "unstable"}},
	})
	suite.NoError(err)
	scores, err := module.PredictScores(ctx, "alice", 10)
	suite.NoError(err)
	suite.Equal([]cache.Scored{{ItemId: "a", Score: 1}}, scores)
}

func (suite *PipelineTestSuite) TestNegativeWeight() {
	ctx := context.Background()
	RegisterPredictor("penalty", func(_ context.Context, _ data.Database, _ map[string]any) (Predictor, error) {
		return fixedPredictor{scores: []cache.Scored{
			{ItemId: "a", Score: 1},
			{ItemId: "b", Score: 1},
		}}, nil
	})
	module, err := LoadModule(ctx, suite.store, data.Module{
		Name: "demotion",
		Predictors: []data.PredictorConfig{
			{Name: "popular", Kind: "popularity"},
			{Name: "demote", Kind: "penalty", Weight: lo.ToPtr(-2.0)},
		},
	})
	suite.NoError(err)
	// popularity gives a=3, b=1, c=1; the penalty subtracts 2 from a and b
	scores, err := module.PredictScores(ctx, "alice", 10)
	suite.NoError(err)
	suite.Equal([]cache.Scored{
		{ItemId: "a", Score: 1},
		{ItemId: "c", Score: 1},
		{ItemId: "b", Score: -1},
	}, scores)
}

func (suite *PipelineTestSuite) TestResolver() {
	ctx := context.Background()
	config := data.Module{
		Name:       "discovery",
		Predictors: []data.PredictorConfig{{Name: "popular", Kind: "popularity"}},
	}
	suite.NoError(suite.store.PutModule(ctx, config))
	resolver := NewResolver(suite.store, time.Minute)
	defer resolver.Close()

	module, err := resolver.Get(ctx, "discovery")
	suite.NoError(err)
	suite.Equal("discovery", module.Name())

	// the cached instance survives deletion until invalidated
	suite.NoError(suite.store.DeleteModule(ctx, "discovery"))
	cached, err := resolver.Get(ctx, "discovery")
	suite.NoError(err)
	suite.Same(module, cached)
	resolver.Invalidate("discovery")
	_, err = resolver.Get(ctx, "discovery")
	suite.ErrorIs(errors.Cause(err), data.ErrModuleNotExist)
}
