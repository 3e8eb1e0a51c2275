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
	"hash/fnv"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
)

func init() {
	RegisterReranker("genre_diversity", newGenreDiversityReranker)
	RegisterReranker("shuffle_tail", newShuffleTailReranker)
}

type genreDiversityParams struct {
	Window int `mapstructure:"window"`
}

// genreDiversityReranker greedily reorders a recommendation so that
// consecutive items within a sliding window do not share a genre. At each
// position it picks the highest scored remaining item whose genres are all
// absent from the last window picks, falling back to the highest scored item
// when none qualifies.
type genreDiversityReranker struct {
	store  data.Database
	window int
}

func newGenreDiversityReranker(_ context.Context, store data.Database, params map[string]any) (Reranker, error) {
	p := genreDiversityParams{Window: 3}
	if err := decodeParams(params, &p); err != nil {
		return nil, errors.Trace(err)
	}
	if p.Window < 1 {
		return nil, errors.NotValidf("window %v", p.Window)
	}
	return &genreDiversityReranker{store: store, window: p.Window}, nil
}

func (r *genreDiversityReranker) Rerank(ctx context.Context, _ string, scores []cache.Scored, _ int) ([]cache.Scored, error) {
	if len(scores) < 3 {
		return scores, nil
	}
	itemIds := make([]string, len(scores))
	for i, scored := range scores {
		itemIds[i] = scored.ItemId
	}
	genres, err := r.store.GetItemGenres(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	remaining := scores
	reranked := make([]cache.Scored, 0, len(scores))
	var recent []mapset.Set[string]
	for len(remaining) > 0 {
		picked := 0
		for i, scored := range remaining {
			clashes := false
			for _, seen := range recent {
				for _, genre := range genres[scored.ItemId] {
					if seen.Contains(genre) {
						clashes = true
						break
					}
				}
				if clashes {
					break
				}
			}
			if !clashes {
				picked = i
				break
			}
		}
		pick := remaining[picked]
		reranked = append(reranked, pick)
		remaining = append(remaining[:picked], remaining[picked+1:]...)
		recent = append(recent, mapset.NewThreadUnsafeSet(genres[pick.ItemId]...))
		if len(recent) > r.window-1 {
			recent = recent[1:]
		}
	}
	return reranked, nil
}

type shuffleTailParams struct {
	Head int `mapstructure:"head"`
}

// shuffleTailReranker keeps the top scored head in place and shuffles the
// rest. The shuffle is seeded by the user id, so a user sees a stable order
// until the module is reloaded with different candidates.
type shuffleTailReranker struct {
	head int
}

func newShuffleTailReranker(_ context.Context, _ data.Database, params map[string]any) (Reranker, error) {
	p := shuffleTailParams{Head: 3}
	if err := decodeParams(params, &p); err != nil {
		return nil, errors.Trace(err)
	}
	if p.Head < 0 {
		return nil, errors.NotValidf("head %v", p.Head)
	}
	return &shuffleTailReranker{head: p.Head}, nil
}

func (r *shuffleTailReranker) Rerank(_ context.Context, userId string, scores []cache.Scored, _ int) ([]cache.Scored, error) {
	if len(scores) <= r.head+1 {
		return scores, nil
	}
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(userId))
	rng := rand.New(rand.NewSource(int64(hash.Sum64())))
	tail := scores[r.head:]
	rng.Shuffle(len(tail), func(i, j int) {
		tail[i], tail[j] = tail[j], tail[i]
	})
	return scores, nil
}
