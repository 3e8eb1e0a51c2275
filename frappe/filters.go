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
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/frappe-io/frappe/storage/cache"
	"github.com/frappe-io/frappe/storage/data"
	"github.com/juju/errors"
)

func init() {
	RegisterFilter("owned", newOwnedFilter)
	RegisterFilter("locale", newLocaleFilter)
	RegisterFilter("expression", newExpressionFilter)
}

// ownedFilter removes items the user already holds. Dropped entries do not
// count as held, so a dropped item may be recommended again.
type ownedFilter struct {
	store data.Database
}

func newOwnedFilter(_ context.Context, store data.Database, _ map[string]any) (Filter, error) {
	return &ownedFilter{store: store}, nil
}

func (f *ownedFilter) Filter(ctx context.Context, userId string, scores []cache.Scored, _ int) ([]cache.Scored, error) {
	inventory, err := f.store.GetUserInventory(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	owned := mapset.NewThreadUnsafeSet[string]()
	for _, entry := range inventory {
		if !entry.Dropped() {
			owned.Add(entry.ItemId)
		}
	}
	if owned.Cardinality() == 0 {
		return scores, nil
	}
	filtered := scores[:0]
	for _, scored := range scores {
		if !owned.Contains(scored.ItemId) {
			filtered = append(filtered, scored)
		}
	}
	return filtered, nil
}

// localeFilter keeps items whose locales intersect the user's locales. Locale
// matching is by language code only, so "en-us" accepts items tagged "en-gb".
// A user without locale rows is unrestricted, and so is an item without
// locale rows.
type localeFilter struct {
	store data.Database
}

func newLocaleFilter(_ context.Context, store data.Database, _ map[string]any) (Filter, error) {
	return &localeFilter{store: store}, nil
}

func (f *localeFilter) Filter(ctx context.Context, userId string, scores []cache.Scored, _ int) ([]cache.Scored, error) {
	userLocales, err := f.store.GetUserLocales(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(userLocales) == 0 {
		return scores, nil
	}
	languages := mapset.NewThreadUnsafeSet[string]()
	for _, locale := range userLocales {
		languages.Add(locale.LanguageCode)
	}
	itemIds := make([]string, len(scores))
	for i, scored := range scores {
		itemIds[i] = scored.ItemId
	}
	itemLocales, err := f.store.GetItemLocales(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	filtered := scores[:0]
	for _, scored := range scores {
		locales := itemLocales[scored.ItemId]
		if len(locales) == 0 {
			filtered = append(filtered, scored)
			continue
		}
		for _, s := range locales {
			locale, err := data.ParseLocale(s)
			if err != nil {
				continue
			}
			if languages.Contains(locale.LanguageCode) {
				filtered = append(filtered, scored)
				break
			}
		}
	}
	return filtered, nil
}

// expressionFilter keeps items for which a boolean expression holds. The
// expression sees the same environment as the expression predictor.
type expressionFilter struct {
	store   data.Database
	program *vm.Program
	owners  map[string]int
}

func newExpressionFilter(ctx context.Context, store data.Database, params map[string]any) (Filter, error) {
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
	if program.Node().Type().Kind() != reflect.Bool {
		return nil, errors.Errorf("filter expression must return a boolean")
	}
	owners, err := store.CountAcquisitions(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &expressionFilter{store: store, program: program, owners: owners}, nil
}

func (f *expressionFilter) Filter(ctx context.Context, _ string, scores []cache.Scored, _ int) ([]cache.Scored, error) {
	itemIds := make([]string, len(scores))
	for i, scored := range scores {
		itemIds[i] = scored.ItemId
	}
	items, err := f.store.BatchGetItems(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	catalog := make(map[string]data.Item, len(items))
	for _, item := range items {
		catalog[item.ItemId] = item
	}
	genres, err := f.store.GetItemGenres(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	locales, err := f.store.GetItemLocales(ctx, itemIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	filtered := scores[:0]
	for _, scored := range scores {
		result, err := expr.Run(f.program, map[string]any{
			"item":    catalog[scored.ItemId],
			"genres":  genres[scored.ItemId],
			"locales": locales[scored.ItemId],
			"owners":  f.owners[scored.ItemId],
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		if keep, ok := result.(bool); ok && keep {
			filtered = append(filtered, scored)
		}
	}
	return filtered, nil
}
