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

package cloudstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileClient reads and writes frame objects on the local filesystem. It is
// intended for development and tests that want to bypass real providers.
// Bucket names become subdirectories under the base path.
type FileClient struct {
	base string
}

var _ Client = (*FileClient)(nil)

// NewFileClient returns a client rooted at base.
func NewFileClient(base string) *FileClient {
	return &FileClient{base: base}
}

func (c *FileClient) path(bucket, key string) string {
	return filepath.Join(c.base, bucket, filepath.FromSlash(key))
}

func (c *FileClient) UploadObject(_ context.Context, bucket, key string, body []byte) error {
	dst := c.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", dst, err)
	}
	return nil
}

func (c *FileClient) DownloadObject(_ context.Context, bucket, key string) ([]byte, bool, error) {
	body, err := os.ReadFile(c.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return body, false, nil
}

func (c *FileClient) DeleteObject(_ context.Context, bucket, key string) error {
	if err := os.Remove(c.path(bucket, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
