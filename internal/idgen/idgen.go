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

// Package idgen generates identifiers for object keys and worker claims.
package idgen

import (
	crand "crypto/rand"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces string identifiers ordered by the supplied timestamp.
type IDGenerator interface {
	Make(t time.Time) string
}

// ULIDGenerator produces monotonic ULIDs. Keys built from these are unique
// per call, which is what makes frame object keys write-once.
type ULIDGenerator struct {
	entropy *ulid.MonotonicEntropy
}

var _ IDGenerator = (*ULIDGenerator)(nil)

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (u *ULIDGenerator) Make(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), u.entropy).String()
}

// WorkerID returns a random positive identifier for an execution claimant.
// Uniqueness only needs to hold across live workers sharing one database.
func WorkerID() int64 {
	return rand.Int64N(1<<62) + 1
}
