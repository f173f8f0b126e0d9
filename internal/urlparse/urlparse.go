// Package urlparse extracts (workspaceId, blockId, filename) from the
// upstream hostname families the document platform is known to emit. It
// performs no I/O; an unrecognised shape is not an error, just a miss. See
// spec §4.2.
package urlparse

import (
	"net/url"
	"strings"
)

// Parsed is the result of successfully recognising an upstream URL shape.
type Parsed struct {
	WorkspaceID string
	BlockID     string
	Filename    string
	BaseURL     string
	FullURL     string
}

// Parse attempts each recognised hostname family in turn. It returns
// ok=false (no error) when nothing matches, per spec §4.2 — the caller
// proceeds with an opaque base URL either way.
func Parse(raw string) (Parsed, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Parsed{}, false
	}
	base := *u
	base.RawQuery = ""
	baseURL := base.String()

	host := strings.ToLower(u.Hostname())
	segments := splitPath(u.Path)

	switch {
	case isVirtualHostedS3(host):
		// <bucket>.s3.<region>.amazonaws.com/<workspace>/<block>/<filename>
		if len(segments) < 3 {
			return Parsed{}, false
		}
		n := len(segments)
		return Parsed{
			WorkspaceID: segments[n-3],
			BlockID:     segments[n-2],
			Filename:    segments[n-1],
			BaseURL:     baseURL,
			FullURL:     raw,
		}, true

	case isPathStyleS3(host):
		// s3.<region>.amazonaws.com/<bucket>/<workspace>/<block>/<filename>
		if len(segments) < 4 {
			return Parsed{}, false
		}
		n := len(segments)
		return Parsed{
			WorkspaceID: segments[n-3],
			BlockID:     segments[n-2],
			Filename:    segments[n-1],
			BaseURL:     baseURL,
			FullURL:     raw,
		}, true

	case isDocumentPlatformDirect(host):
		// <platform-host>/image/<workspace>/<block>/<filename>
		for i, seg := range segments {
			if seg == "image" && len(segments) >= i+4 {
				rest := segments[i+1:]
				return Parsed{
					WorkspaceID: rest[0],
					BlockID:     rest[1],
					Filename:    rest[2],
					BaseURL:     baseURL,
					FullURL:     raw,
				}, true
			}
		}
		return Parsed{}, false

	case isURLEncodedKeyCDN(host):
		// <cdn-host>/<url-encoded-upstream-key>
		// u.Path is already decoded, so the encoded key is taken from the
		// escaped path, where its %2F separators are still intact.
		escaped := splitPath(u.EscapedPath())
		if len(escaped) < 1 {
			return Parsed{}, false
		}
		decoded, err := url.QueryUnescape(escaped[len(escaped)-1])
		if err != nil {
			return Parsed{}, false
		}
		inner := splitPath(decoded)
		if len(inner) < 3 {
			return Parsed{}, false
		}
		n := len(inner)
		return Parsed{
			WorkspaceID: inner[n-3],
			BlockID:     inner[n-2],
			Filename:    inner[n-1],
			BaseURL:     baseURL,
			FullURL:     raw,
		}, true
	}

	return Parsed{}, false
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isVirtualHostedS3(host string) bool {
	return strings.Contains(host, ".s3.") && strings.HasSuffix(host, ".amazonaws.com") ||
		strings.Contains(host, ".s3-") && strings.HasSuffix(host, ".amazonaws.com")
}

func isPathStyleS3(host string) bool {
	return strings.HasPrefix(host, "s3.") && strings.HasSuffix(host, ".amazonaws.com")
}

func isDocumentPlatformDirect(host string) bool {
	return host == "www.notion.so" || host == "notion.so"
}

func isURLEncodedKeyCDN(host string) bool {
	return host == "notion-static.com" || strings.HasSuffix(host, ".notion-static.com")
}
