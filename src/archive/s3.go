package archive

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Scheme prefixes archive locations stored in S3.
const S3Scheme = "s3://"

// IsRemote reports whether location is an S3 URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, S3Scheme)
}

// ParseS3URL splits an s3://bucket/key URL.
func ParseS3URL(location string) (bucket, key string, err error) {
	if !IsRemote(location) {
		return "", "", errors.Errorf("%s is not an s3 url", location)
	}

	parts := strings.SplitN(strings.TrimPrefix(location, S3Scheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("%s should be of the form s3://bucket/key", location)
	}

	return parts[0], parts[1], nil
}

// S3Store fetches and publishes archives from/to S3. Credentials and region
// come from the default AWS configuration chain.
type S3Store struct {
	client *s3.Client
}

// NewS3Store loads the default AWS configuration. region overrides the
// configured region when not empty.
func NewS3Store(ctx context.Context, region string) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS configuration")
	}

	return &S3Store{client: s3.NewFromConfig(cfg)}, nil
}

// Fetch downloads the archive at location into the local file dst.
func (s *S3Store) Fetch(ctx context.Context, location, dst string) error {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return err
	}

	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "fetching %s", location)
	}
	defer res.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		return errors.Wrapf(err, "fetching %s", location)
	}

	return f.Close()
}

// Publish uploads the local archive src to location.
func (s *S3Store) Publish(ctx context.Context, src, location string) error {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "publishing %s", location)
	}

	return nil
}

// ExportTo packs workDir into an archive at location, which is either a local
// path or an s3:// URL. Remote archives are built in a temporary directory
// under the key's basename, so that they are rooted like local ones.
func ExportTo(ctx context.Context, workDir, location string) (bool, error) {
	if !IsRemote(location) {
		return Export(workDir, location)
	}

	_, key, err := ParseS3URL(location)
	if err != nil {
		return false, err
	}

	tmp, err := ioutil.TempDir("", "valnet-archive-")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, path.Base(key))

	ok, err := Export(workDir, local)
	if err != nil || !ok {
		return ok, err
	}

	store, err := NewS3Store(ctx, "")
	if err != nil {
		return false, err
	}

	if err := store.Publish(ctx, local, location); err != nil {
		return false, err
	}

	return true, nil
}
