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

package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cardinalhq/framepipe/internal/workflow"
)

// ParseItems extracts item candidates from raw model output. Vision models
// are told to answer with a bare JSON array but routinely wrap it in
// markdown fences or a sentence of prose, so the parser finds the outermost
// array rather than requiring the whole output to be JSON.
func ParseItems(content string) ([]workflow.ItemCandidate, error) {
	raw := extractArray(content)
	if raw == "" {
		return nil, fmt.Errorf("model output contains no JSON array")
	}

	var items []workflow.ItemCandidate
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	kept := items[:0]
	for _, item := range items {
		if strings.TrimSpace(item.Caption) == "" {
			continue
		}
		item.Caption = strings.TrimSpace(item.Caption)
		kept = append(kept, item)
	}
	return kept, nil
}

// extractArray returns the substring from the first '[' through its matching
// close bracket, tracking strings so brackets inside captions don't
// unbalance the scan.
func extractArray(content string) string {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
