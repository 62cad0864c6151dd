// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGeneratorUnique(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Now()

	seen := make(map[string]struct{})
	for range 1000 {
		id := gen.Make(now)
		require.Len(t, id, 26)
		_, dup := seen[id]
		require.False(t, dup, "duplicate ULID %s", id)
		seen[id] = struct{}{}
	}
}

func TestULIDGeneratorTimeOrdered(t *testing.T) {
	gen := NewULIDGenerator()
	a := gen.Make(time.Unix(1000, 0))
	b := gen.Make(time.Unix(2000, 0))
	assert.Less(t, a, b)
}

func TestWorkerIDPositive(t *testing.T) {
	for range 100 {
		assert.Positive(t, WorkerID())
	}
}
