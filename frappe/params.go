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
	"sort"

	"github.com/frappe-io/frappe/storage/cache"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
)

// decodeParams fills a typed parameter struct from the free-form params
// payload stored with a module. JSON numbers are coerced into the target
// field types.
func decodeParams(params map[string]any, out any) error {
	if params == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(decoder.Decode(params))
}

// topN sorts scores from highest to lowest (ties broken by item id for
// determinism) and truncates to n.
func topN(scores []cache.Scored, n int) []cache.Scored {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ItemId < scores[j].ItemId
	})
	if len(scores) > n {
		scores = scores[:n]
	}
	return scores
}
