package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioArchiver writes workbook JSON to an S3-compatible bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and creates the bucket when it does not exist yet.
func NewMinio(ctx context.Context, cfg MinioConfig) (*MinioArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

func (a *MinioArchiver) Put(ctx context.Context, wb store.Workbook) (string, error) {
	if err := validateParts(wb.FamilyID, wb.PersonID); err != nil {
		return "", err
	}
	payload, err := encode(wb)
	if err != nil {
		return "", err
	}
	key := Key(wb.FamilyID, wb.PersonID, wb.WeekYear, wb.WeekNumber)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"workbook-id": wb.WorkbookID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

func (a *MinioArchiver) Get(ctx context.Context, tenantID, personID string, year, week int) (store.Workbook, error) {
	if err := validateParts(tenantID, personID); err != nil {
		return store.Workbook{}, err
	}
	key := Key(tenantID, personID, year, week)
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return store.Workbook{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return store.Workbook{}, ErrNotArchived
		}
		return store.Workbook{}, fmt.Errorf("read %s: %w", key, err)
	}
	return decode(payload)
}

func (a *MinioArchiver) List(ctx context.Context, tenantID, personID string) ([]Entry, error) {
	if err := validateParts(tenantID, personID); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0)
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    personPrefix(tenantID, personID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list archive: %w", obj.Err)
		}
		entries = append(entries, Entry{
			Key:          obj.Key,
			WeekKey:      weekKeyOf(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sortEntries(entries)
	return entries, nil
}

func encode(wb store.Workbook) ([]byte, error) {
	payload, err := json.MarshalIndent(wb, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workbook: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (store.Workbook, error) {
	var wb store.Workbook
	if err := json.Unmarshal(payload, &wb); err != nil {
		return store.Workbook{}, fmt.Errorf("decode archived workbook: %w", err)
	}
	wb.Normalize()
	return wb, nil
}
