/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"

	"github.com/tomoncle/unitofwork/session"
	"github.com/tomoncle/unitofwork/types"
)

// FindManyAndMap loads the matches of filter within the skip/take window and
// projects each one with mapper. A load failure is logged by the repository
// and yields an empty result. A disposed repository, a closed session, a nil
// mapper or a negative window return an error.
func FindManyAndMap[S session.Context, T any, K any](
	ctx context.Context,
	repo Repository[S, T],
	filter *types.QueryFilter,
	mapper func(*T) K,
	skip, take int,
) ([]K, error) {
	if mapper == nil {
		return nil, ErrNilProjection
	}
	if err := repo.Ready(); err != nil {
		return nil, err
	}
	spec := repo.Query(filter, skip, take)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	items := repo.Load(ctx, spec)
	out := make([]K, 0, len(items))
	for _, item := range items {
		out = append(out, mapper(item))
	}
	return out, nil
}
