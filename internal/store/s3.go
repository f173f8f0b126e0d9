package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is the S3-compatible object-store L3 backend (spec §4.6, §6.3),
// grounded directly on the teacher's minio-go usage.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 builds an S3 store against endpoint/bucket using static
// credentials. It works against AWS S3, MinIO, and Cloudflare R2 alike,
// since all three speak the same signed-request protocol. Secure is
// derived from the endpoint's own scheme, defaulting to TLS when none is
// given, since R2 and most managed S3 endpoints are TLS-only.
func NewS3(ctx context.Context, endpoint, accessKey, secretKey, bucket, prefix string) (*S3, error) {
	endpoint, secure := splitEndpointScheme(endpoint)

	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	} else {
		prefix = "images/"
	}

	exists, err := cl.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cl.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &S3{client: cl, bucket: bucket, prefix: prefix}, nil
}

// splitEndpointScheme strips an explicit http(s):// prefix and reports
// whether the connection should use TLS, defaulting to true when the
// endpoint carries no scheme at all.
func splitEndpointScheme(endpoint string) (string, bool) {
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://"), true
	}
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, true
}

func (s *S3) Name() string { return "s3" }

func (s *S3) fullKey(key string) string {
	return s.prefix + key
}

func (s *S3) Get(ctx context.Context, key string) (*Object, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.fullKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, translateErr(err)
	}
	defer obj.Close()

	st, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, false, err
	}

	return &Object{Bytes: data, Meta: metaFromUserMetadata(st.Metadata)}, true, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.fullKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	opts := minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: userMetadataFromMeta(meta),
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.fullKey(key), bytes.NewReader(data), int64(len(data)), opts)
	return err
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.fullKey(key), minio.RemoveObjectOptions{})
}

// DeleteByPrefix paginates a list call and issues parallel deletes (spec
// §4.6).
func (s *S3) DeleteByPrefix(ctx context.Context, prefix string) error {
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.fullKey(prefix),
		Recursive: true,
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 64)
	sem := make(chan struct{}, 16)

	for obj := range objectsCh {
		if obj.Err != nil {
			errCh <- obj.Err
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
				errCh <- err
			}
		}(obj.Key)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck succeeds if the bucket is reachable and exists. No object key
// is probed.
func (s *S3) HealthCheck(ctx context.Context) bool {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil && exists
}

// TouchAccess is best-effort: S3 custom metadata can't be patched in place
// without rewriting the whole object, so access accounting on this backend
// is skipped rather than paying for a full re-PUT on every read.
func (s *S3) TouchAccess(_ context.Context, _ string) {}

func userMetadataFromMeta(m Meta) map[string]string {
	um := map[string]string{
		"x-original-url":  m.OriginalURL,
		"x-content-type":  m.ContentType,
		"x-original-size": strconv.FormatInt(m.OriginalSize, 10),
		"x-cached-size":   strconv.FormatInt(m.CachedSize, 10),
		"x-width":         strconv.Itoa(m.Width),
		"x-height":        strconv.Itoa(m.Height),
		"x-workspace-id":  m.WorkspaceID,
		"x-block-id":      m.BlockID,
		"x-cached-at":     m.CachedAt.UTC().Format(time.RFC3339),
		"x-access-count":  strconv.FormatInt(m.AccessCount, 10),
	}
	return um
}

func metaFromUserMetadata(md map[string][]string) Meta {
	get := func(k string) string {
		// Accepts the key as supplied on PUT, with only its first letter
		// capitalised, in canonical header form, and in canonical header
		// form with the X-Amz-Meta- prefix still attached.
		for _, variant := range []string{
			k,
			strings.ToUpper(k[:1]) + k[1:],
			http.CanonicalHeaderKey(k),
			http.CanonicalHeaderKey("X-Amz-Meta-" + k),
		} {
			if v, ok := md[variant]; ok && len(v) > 0 {
				return v[0]
			}
		}
		return ""
	}
	var m Meta
	m.OriginalURL = get("x-original-url")
	m.ContentType = get("x-content-type")
	m.OriginalSize, _ = strconv.ParseInt(get("x-original-size"), 10, 64)
	m.CachedSize, _ = strconv.ParseInt(get("x-cached-size"), 10, 64)
	m.Width, _ = strconv.Atoi(get("x-width"))
	m.Height, _ = strconv.Atoi(get("x-height"))
	m.WorkspaceID = get("x-workspace-id")
	m.BlockID = get("x-block-id")
	if t, err := time.Parse(time.RFC3339, get("x-cached-at")); err == nil {
		m.CachedAt = t
	}
	m.AccessCount, _ = strconv.ParseInt(get("x-access-count"), 10, 64)
	return m
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}

func translateErr(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}
