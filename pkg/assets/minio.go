package assets

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/models"
)

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"`
}

// MinioStore keeps assets in an S3 compatible bucket.
type MinioStore struct {
	cl     *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

func NewMinioStore(cfg S3Config) (*MinioStore, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &MinioStore{cl: cl, bucket: cfg.Bucket}, nil
}

// Upload validates u and puts it under {collection}/{key}-{name}.
func (s *MinioStore) Upload(ctx context.Context, kind models.Kind, u Upload) (string, error) {
	if err := Validate(kind, u.Size, u.MimeType); err != nil {
		return "", err
	}
	key := ObjectKey(kind, backend.NewKey(), u.Name)
	_, err := s.cl.PutObject(ctx, s.bucket, key, u.Body, u.Size, minio.PutObjectOptions{
		ContentType: u.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.cl.EndpointURL().JoinPath(s.bucket, key).String(), nil
}

// ObjectKey builds the bucket key of an asset.
func ObjectKey(kind models.Kind, id, name string) string {
	name = strings.ReplaceAll(url.PathEscape(name), "%2F", "_")
	if name == "" {
		return kind.Collection() + "/" + id
	}
	return kind.Collection() + "/" + id + "-" + name
}
