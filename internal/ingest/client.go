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

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/framepipe/framedb"
)

// Client drives the session lifecycle endpoints from the capture and
// session CLIs.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the ingest service at the given base URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSession creates a new capture session and returns its id.
func (c *Client) CreateSession(ctx context.Context, name string) (uuid.UUID, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return uuid.Nil, err
	}

	resp, err := c.post(ctx, "/api/v1/sessions", body)
	if err != nil {
		return uuid.Nil, err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusCreated {
		return uuid.Nil, fmt.Errorf("create session: ingest returned %s", resp.Status)
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return uuid.Nil, fmt.Errorf("decode create session response: %w", err)
	}
	return created.ID, nil
}

// MarkSessionDone declares that no more frames will arrive for the session.
func (c *Client) MarkSessionDone(ctx context.Context, id uuid.UUID) error {
	resp, err := c.post(ctx, "/api/v1/sessions/"+id.String()+"/done", nil)
	if err != nil {
		return err
	}
	defer drainClose(resp)

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return framedb.ErrNotFound
	default:
		return fmt.Errorf("mark session done: ingest returned %s", resp.Status)
	}
}

// SessionStats fetches execution progress counts for the session.
func (c *Client) SessionStats(ctx context.Context, id uuid.UUID) (framedb.SessionStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/v1/sessions/"+id.String()+"/stats", nil)
	if err != nil {
		return framedb.SessionStats{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return framedb.SessionStats{}, err
	}
	defer drainClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return framedb.SessionStats{}, framedb.ErrNotFound
	default:
		return framedb.SessionStats{}, fmt.Errorf("session stats: ingest returned %s", resp.Status)
	}

	var counts struct {
		Pending   int64 `json:"pending"`
		Analyzing int64 `json:"analyzing"`
		Storing   int64 `json:"storing"`
		Completed int64 `json:"completed"`
		Failed    int64 `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return framedb.SessionStats{}, fmt.Errorf("decode session stats: %w", err)
	}
	return framedb.SessionStats(counts), nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
