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
	"net"
)

// Activities classify their own failures at the boundary so retry decisions
// are made in one place. A terminal error ends the execution immediately;
// everything else is retried on the backoff schedule.

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks an error as non-retryable: malformed input, programming
// errors, anything where repeating the call cannot succeed.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Terminalf is Terminal with formatting.
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// IsTerminal reports whether err was marked non-retryable anywhere in its
// chain. Context cancellation is also terminal for the current claim: the
// worker is shutting down and the execution will be reclaimed, not failed.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// IsRetryable is the complement of IsTerminal for non-nil errors. Network
// timeouts always land here regardless of wrapping, matching the contract
// that provider timeouts and rate limits never fail an execution outright.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !IsTerminal(err)
}
