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

package workflow

import "time"

// BackoffPolicy is the schedule of delays between retry attempts.
type BackoffPolicy struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
}

// DefaultBackoff retries at 10s, 20s, 40s, ... capped at 2 minutes.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    10 * time.Second,
		Multiplier: 2,
		Max:        2 * time.Minute,
	}
}

// Delay returns the wait before the next attempt after the nth failure:
// Delay(1) is Initial, Delay(2) is Initial*Multiplier, and so on up to Max.
func (p BackoffPolicy) Delay(nthFailure int32) time.Duration {
	d := p.Initial
	for i := int32(1); i < nthFailure; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
