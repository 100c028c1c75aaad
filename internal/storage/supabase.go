package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"
)

// bucketClient is the subset of the storage-go client used here.
type bucketClient interface {
	UploadFile(bucketId string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	RemoveFile(bucketId string, paths []string) ([]storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseStorage implements ObjectStore on a public Supabase Storage bucket.
type SupabaseStorage struct {
	client bucketClient
	bucket string
}

func NewSupabaseStorage(client *storage_go.Client, bucket string) *SupabaseStorage {
	return &SupabaseStorage{client: client, bucket: bucket}
}

func (s *SupabaseStorage) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	upsert := false
	_, err := s.client.UploadFile(s.bucket, name, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", name, s.bucket, err)
	}

	return s.client.GetPublicUrl(s.bucket, name).SignedURL, nil
}

func (s *SupabaseStorage) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{name}); err != nil {
		return fmt.Errorf("failed to remove %s from bucket %s: %w", name, s.bucket, err)
	}
	return nil
}
