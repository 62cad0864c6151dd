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
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// azureClient stores frames as blobs; the bucket maps to a blob container.
type azureClient struct {
	client *azblob.Client
}

func newAzureClient(cfg Config) (*azureClient, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("azure storage requires an account id")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountID)
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}
	return &azureClient{client: client}, nil
}

func (c *azureClient) UploadObject(ctx context.Context, bucket, key string, body []byte) error {
	_, err := c.client.UploadBuffer(ctx, bucket, key, body, nil)
	if err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *azureClient) DownloadObject(ctx context.Context, bucket, key string) ([]byte, bool, error) {
	resp, err := c.client.DownloadStream(ctx, bucket, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("download blob %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read blob %s/%s: %w", bucket, key, err)
	}
	return body, false, nil
}

func (c *azureClient) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteBlob(ctx, bucket, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("delete blob %s/%s: %w", bucket, key, err)
	}
	return nil
}
