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

// Package cloudstorage stores and fetches raw frame bytes across storage
// providers. Frame objects are small and write-once, so the interface works
// on byte slices rather than temp files.
package cloudstorage

import (
	"context"
	"fmt"
	"strings"
)

// Client provides a unified interface for frame blob operations across
// different providers.
type Client interface {
	// UploadObject writes body under bucket/key. Keys are never reused, so
	// an upload never overwrites live data.
	UploadObject(ctx context.Context, bucket, key string, body []byte) error

	// DownloadObject fetches an object. notFound reports a missing key
	// without an error so callers can classify it themselves.
	DownloadObject(ctx context.Context, bucket, key string) (body []byte, notFound bool, err error)

	// DeleteObject removes an object; deleting a missing key is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Config selects and parameterizes a storage provider.
type Config struct {
	Provider  string `mapstructure:"provider"` // aws, azure, or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`   // optional S3-compatible endpoint
	AccessKey string `mapstructure:"access_key"` // static credentials for S3-compatible endpoints
	SecretKey string `mapstructure:"secret_key"`
	AccountID string `mapstructure:"account_id"`
	LocalDir  string `mapstructure:"local_dir"`
}

// NewClient creates a storage client for the configured provider.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case "aws", "": // Empty defaults to AWS
		return newS3Client(ctx, cfg)
	case "azure":
		return newAzureClient(cfg)
	case "local":
		return NewFileClient(cfg.LocalDir), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// BuildURI renders the canonical object URI carried in frame job rows and
// queue descriptors.
func BuildURI(provider, bucket, key string) string {
	scheme := provider
	switch provider {
	case "aws", "":
		scheme = "s3"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// ParseURI splits an object URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	_, rest, found := strings.Cut(uri, "://")
	if !found {
		return "", "", fmt.Errorf("malformed object uri: %s", uri)
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed object uri: %s", uri)
	}
	return bucket, key, nil
}
