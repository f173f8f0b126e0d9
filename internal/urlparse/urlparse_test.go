package urlparse

import "testing"

func TestParseVirtualHostedS3(t *testing.T) {
	raw := "https://prod-files.s3.us-west-2.amazonaws.com/ws-abc/block-123/photo.png?X-Amz-Signature=xyz"
	p, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected a match")
	}
	if p.WorkspaceID != "ws-abc" || p.BlockID != "block-123" || p.Filename != "photo.png" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
	if p.FullURL != raw {
		t.Fatalf("FullURL should preserve the raw input")
	}
}

func TestParsePathStyleS3(t *testing.T) {
	raw := "https://s3.us-west-2.amazonaws.com/prod-files/ws-abc/block-123/photo.png"
	p, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected a match")
	}
	if p.WorkspaceID != "ws-abc" || p.BlockID != "block-123" || p.Filename != "photo.png" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
}

func TestParseDocumentPlatformDirect(t *testing.T) {
	raw := "https://www.notion.so/image/ws-abc/block-123/photo.png"
	p, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected a match")
	}
	if p.WorkspaceID != "ws-abc" || p.BlockID != "block-123" || p.Filename != "photo.png" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
}

func TestParseURLEncodedKeyCDN(t *testing.T) {
	raw := "https://notion-static.com/" + escapedInner
	p, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected a match")
	}
	if p.WorkspaceID != "ws-abc" || p.BlockID != "block-123" || p.Filename != "photo.png" {
		t.Fatalf("unexpected parse result: %+v", p)
	}
}

const escapedInner = "ws-abc%2Fblock-123%2Fphoto.png"

func TestParseUnrecognisedHostIsAMissNotAnError(t *testing.T) {
	p, ok := Parse("https://random-cdn.example.com/whatever")
	if ok {
		t.Fatalf("expected no match for an unrecognised host, got %+v", p)
	}
}

func TestParseMalformedURL(t *testing.T) {
	if _, ok := Parse("not a url at all \x7f"); ok {
		t.Fatalf("expected malformed input to be a non-match, not a panic or match")
	}
}
