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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTerminalClassification(t *testing.T) {
	base := errors.New("image payload is not decodable")

	assert.False(t, IsTerminal(base))
	assert.True(t, IsTerminal(Terminal(base)))
	assert.True(t, IsTerminal(fmt.Errorf("analyze: %w", Terminal(base))))
	assert.True(t, IsTerminal(Terminalf("bad frame %q", "x.jpg")))
	assert.Nil(t, Terminal(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection refused")))
	assert.False(t, IsRetryable(Terminal(errors.New("unsupported image format"))))

	// Timeouts stay retryable even when something wrapped them terminal
	// further up the chain.
	assert.True(t, IsRetryable(timeoutErr{}))
	assert.True(t, IsRetryable(fmt.Errorf("call model: %w", timeoutErr{})))
	assert.True(t, IsRetryable(Terminal(timeoutErr{})))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}
