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

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Redis cache storage.
type Redis struct {
	client *redis.Client
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge() error {
	return r.client.FlushDB(context.Background()).Err()
}

func (r *Redis) SetScores(ctx context.Context, key string, scores []Scored, ttl time.Duration) error {
	payload, err := json.Marshal(scores)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.client.Set(ctx, key, payload, ttl).Err())
}

func (r *Redis) GetScores(ctx context.Context, key string) ([]Scored, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Annotate(ErrObjectNotExist, key)
		}
		return nil, errors.Trace(err)
	}
	var scores []Scored
	if err = json.Unmarshal(payload, &scores); err != nil {
		return nil, errors.Trace(err)
	}
	return scores, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Trace(r.client.Del(ctx, key).Err())
}
