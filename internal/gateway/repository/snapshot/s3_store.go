package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store archives snapshots as HTML objects under snapshots/<session>.html.
// The sequence and node count travel as user metadata.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucketName: bucket, region: region}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func objectKey(sessionID string) string {
	return "snapshots/" + strings.TrimSpace(sessionID) + ".html"
}

func (s *S3Store) Put(ctx context.Context, rec Record) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey(rec.SessionID), bytes.NewReader(rec.HTML), int64(len(rec.HTML)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
		UserMetadata: map[string]string{
			"Seq":      strconv.FormatInt(rec.Seq, 10),
			"Nodes":    strconv.Itoa(rec.Nodes),
			"Taken-At": rec.TakenAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, sessionID string) (Record, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Record{}, fmt.Errorf("session_id is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Record{}, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, objectKey(sessionID), minio.GetObjectOptions{})
	if err != nil {
		return Record{}, err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return Record{}, notFoundOr(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return Record{}, notFoundOr(err)
	}
	rec := Record{SessionID: sessionID, HTML: data, TakenAt: info.LastModified.UTC()}
	rec.Seq, _ = strconv.ParseInt(metadata(info.UserMetadata, "Seq"), 10, 64)
	rec.Nodes, _ = strconv.Atoi(metadata(info.UserMetadata, "Nodes"))
	if ts, err := time.Parse(time.RFC3339Nano, metadata(info.UserMetadata, "Taken-At")); err == nil {
		rec.TakenAt = ts.UTC()
	}
	return rec, nil
}

func (s *S3Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	return s.client.RemoveObject(ctx, s.bucketName, objectKey(sessionID), minio.RemoveObjectOptions{})
}

func notFoundOr(err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return ErrNotFound
	}
	return err
}

// metadata looks a user metadata key up regardless of how the server cased it.
func metadata(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "X-Amz-Meta-"+key) {
			return v
		}
	}
	return ""
}
