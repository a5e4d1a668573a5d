package report

import (
	"bytes"
	"context"
	"io"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Store keeps the unmodified output of every scanner invocation, for
// audit. What blocked a release six months ago has to be answerable
// from here, not from whatever the scanner would say today.
type Store interface {
	SaveReport(ctx context.Context, key string, body []byte) (ref string, err error)
	FetchReport(ctx context.Context, key string) ([]byte, error)
}

// S3Config locates the bucket raw reports are kept in. Any
// S3-compatible store works; nothing here is AWS-specific.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

type S3Store struct {
	mc     *minio.Client
	bucket string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "constructing report store client")
	}
	s := &S3Store{mc: mc, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, "checking bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if region == "" {
		region = "us-east-1"
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return errors.Wrapf(err, "creating bucket %s", s.bucket)
	}
	return nil
}

func (s *S3Store) SaveReport(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", errors.Wrapf(err, "storing report %s", key)
	}
	return "s3://" + path.Join(s.bucket, key), nil
}

func (s *S3Store) FetchReport(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching report %s", key)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "reading report %s", key)
	}
	return body, nil
}

// Healthy pings the store, for the daemon's readiness probe.
func (s *S3Store) Healthy(ctx context.Context) error {
	_, err := s.mc.BucketExists(ctx, s.bucket)
	return err
}

// MemStore keeps reports in process memory, for tests and throwaway
// single-node setups.
type MemStore struct {
	mu      sync.Mutex
	reports map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{reports: map[string][]byte{}}
}

func (m *MemStore) SaveReport(_ context.Context, key string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	m.reports[key] = cp
	return "mem://" + key, nil
}

func (m *MemStore) FetchReport(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.reports[key]
	if !ok {
		return nil, errors.Errorf("no report stored at %s", key)
	}
	return body, nil
}
