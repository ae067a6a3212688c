// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Mirror uploads captured backups to a GCS bucket. The mirror is an
// extra copy, never the source of truth; every failure is survivable.
type Mirror struct {
	storageClient *storage.Client
	bucketName    string
	prefix        string
}

// NewMirror creates a GCS mirror client.
//
// # Inputs
//
//   - ctx: Context for client creation.
//   - bucketName: Destination bucket.
//   - prefix: Object key prefix within the bucket (may be empty).
//   - saKeyPath: Path to the service account key file.
//
// # Outputs
//
//   - *Mirror: Ready for uploads. Caller must Close() when done.
//   - error: Non-nil if the key file is missing or the client fails.
func NewMirror(ctx context.Context, bucketName, prefix, saKeyPath string) (*Mirror, error) {
	if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Mirror{
		storageClient: storageClient,
		bucketName:    bucketName,
		prefix:        prefix,
	}, nil
}

// Upload copies one local file to the bucket under objectName.
func (m *Mirror) Upload(ctx context.Context, localPath, objectName string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	key := objectName
	if m.prefix != "" {
		key = path.Join(m.prefix, objectName)
	}

	obj := m.storageClient.Bucket(m.bucketName).Object(key)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, key, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}

	return nil
}

// Close releases the underlying storage client.
func (m *Mirror) Close() error {
	return m.storageClient.Close()
}
