package store

import (
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestFullKeyAppliesPrefix(t *testing.T) {
	s := &S3{prefix: "images/"}
	if got := s.fullKey("ab/cd/deadbeef.bin"); got != "images/ab/cd/deadbeef.bin" {
		t.Fatalf("got %q", got)
	}
}

func TestUserMetadataFromMetaRoundTrip(t *testing.T) {
	cachedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := Meta{
		OriginalURL:  "https://example.com/a.png",
		ContentType:  "image/png",
		OriginalSize: 12345,
		CachedSize:   6789,
		Width:        800,
		Height:       600,
		WorkspaceID:  "ws-1",
		BlockID:      "block-1",
		CachedAt:     cachedAt,
		AccessCount:  3,
	}

	um := userMetadataFromMeta(m)

	// Feed the keys back exactly as userMetadataFromMeta wrote them; the
	// other key spellings metaFromUserMetadata accepts are covered by the
	// tests below.
	md := make(map[string][]string, len(um))
	for k, v := range um {
		md[k] = []string{v}
	}

	got := metaFromUserMetadata(md)
	if got.OriginalURL != m.OriginalURL {
		t.Fatalf("OriginalURL: got %q, want %q", got.OriginalURL, m.OriginalURL)
	}
	if got.ContentType != m.ContentType {
		t.Fatalf("ContentType: got %q, want %q", got.ContentType, m.ContentType)
	}
	if got.OriginalSize != m.OriginalSize {
		t.Fatalf("OriginalSize: got %d, want %d", got.OriginalSize, m.OriginalSize)
	}
	if got.CachedSize != m.CachedSize {
		t.Fatalf("CachedSize: got %d, want %d", got.CachedSize, m.CachedSize)
	}
	if got.Width != m.Width || got.Height != m.Height {
		t.Fatalf("dimensions: got %dx%d, want %dx%d", got.Width, got.Height, m.Width, m.Height)
	}
	if got.WorkspaceID != m.WorkspaceID || got.BlockID != m.BlockID {
		t.Fatalf("ids: got %q/%q, want %q/%q", got.WorkspaceID, got.BlockID, m.WorkspaceID, m.BlockID)
	}
	if !got.CachedAt.Equal(m.CachedAt) {
		t.Fatalf("CachedAt: got %v, want %v", got.CachedAt, m.CachedAt)
	}
	if got.AccessCount != m.AccessCount {
		t.Fatalf("AccessCount: got %d, want %d", got.AccessCount, m.AccessCount)
	}
}

func TestMetaFromUserMetadataUppercaseVariant(t *testing.T) {
	// A key with only its first letter capitalised ("X-original-url") must
	// be accepted as well as the lower-case spelling written on PUT.
	md := map[string][]string{"X-original-url": {"https://example.com/b.png"}}
	got := metaFromUserMetadata(md)
	if got.OriginalURL != "https://example.com/b.png" {
		t.Fatalf("got %q", got.OriginalURL)
	}
}

func TestMetaFromUserMetadataMissingKeysYieldZeroValues(t *testing.T) {
	got := metaFromUserMetadata(map[string][]string{})
	if got.OriginalURL != "" || got.OriginalSize != 0 || got.AccessCount != 0 {
		t.Fatalf("expected zero-value Meta, got %+v", got)
	}
}

func TestIsNotFoundRecognisesNoSuchKey(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if !isNotFound(err) {
		t.Fatalf("expected NoSuchKey to be treated as not-found")
	}
}

func TestIsNotFoundRecognisesNoSuchBucket(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}
	if !isNotFound(err) {
		t.Fatalf("expected NoSuchBucket to be treated as not-found")
	}
}

func TestIsNotFoundRecognisesBareStatusCode(t *testing.T) {
	err := minio.ErrorResponse{Code: "SomethingElse", StatusCode: 404}
	if !isNotFound(err) {
		t.Fatalf("expected a bare 404 status to be treated as not-found")
	}
}

func TestIsNotFoundRejectsOtherErrors(t *testing.T) {
	err := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if isNotFound(err) {
		t.Fatalf("expected AccessDenied/403 not to be treated as not-found")
	}
}

func TestTranslateErrSwallowsNotFound(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if translateErr(err) != nil {
		t.Fatalf("expected a not-found error to be swallowed")
	}
}

func TestTranslateErrPassesThroughOtherErrors(t *testing.T) {
	err := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if translateErr(err) == nil {
		t.Fatalf("expected a non-not-found error to be passed through")
	}
}
