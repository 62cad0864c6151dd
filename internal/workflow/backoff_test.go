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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelaySchedule(t *testing.T) {
	p := DefaultBackoff()

	assert.Equal(t, 10*time.Second, p.Delay(1))
	assert.Equal(t, 20*time.Second, p.Delay(2))
	assert.Equal(t, 40*time.Second, p.Delay(3))
	assert.Equal(t, 80*time.Second, p.Delay(4))
	assert.Equal(t, 2*time.Minute, p.Delay(5))
	assert.Equal(t, 2*time.Minute, p.Delay(6))
	assert.Equal(t, 2*time.Minute, p.Delay(100))
}

func TestBackoffDelayNoCap(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Multiplier: 3}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 3*time.Second, p.Delay(2))
	assert.Equal(t, 9*time.Second, p.Delay(3))
}
