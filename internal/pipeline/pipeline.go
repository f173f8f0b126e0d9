// Package pipeline orchestrates the L2/L3 tier probes, the single-flight
// coordinated upstream fetch, and the optimizer, per spec §4.7.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/notion-image-proxy/internal/apperr"
	"github.com/yourname/notion-image-proxy/internal/cachekey"
	"github.com/yourname/notion-image-proxy/internal/edgecache"
	"github.com/yourname/notion-image-proxy/internal/fetcher"
	"github.com/yourname/notion-image-proxy/internal/optimizer"
	"github.com/yourname/notion-image-proxy/internal/reqid"
	sf "github.com/yourname/notion-image-proxy/internal/singleflight"
	"github.com/yourname/notion-image-proxy/internal/store"
	"github.com/yourname/notion-image-proxy/internal/validator"
)

// UpstreamErrorMode selects how fetcher errors are surfaced (spec §4.7).
type UpstreamErrorMode string

const (
	ModeRelay     UpstreamErrorMode = "relay"
	ModeCacheMiss UpstreamErrorMode = "cache-miss"
)

// Tier identifies which layer served a response.
type Tier string

const (
	TierL2Edge       Tier = "L2_EDGE"
	TierL3Persistent Tier = "L3_PERSISTENT"
	TierOrigin       Tier = "ORIGIN"
)

// Request is one resolution request against the pipeline.
type Request struct {
	CacheBaseURL      string
	UpstreamURL       string
	Opts              cachekey.Options
	WorkspaceID       string
	BlockID           string
	UpstreamErrorMode UpstreamErrorMode
}

// Result is what the HTTP layer renders into a response.
type Result struct {
	Tier          Tier
	Hit           bool
	Bytes         []byte
	ContentType   string
	OriginalSize  int64 // only meaningful when Tier == TierOrigin
	OptimizedSize int64
}

// Config holds the tunables the pipeline needs at construction time.
type Config struct {
	FetchTimeout time.Duration
	MaxSizeBytes int64
	AllowedHosts validator.AllowedHosts
	CacheTTL     time.Duration
}

// Pipeline is the only component that knows about all tiers.
type Pipeline struct {
	l2      edgecache.Cache
	l3      store.Store
	fetch   *fetcher.Client
	cfg     Config
	flights sf.Group
}

// New builds a Pipeline over the given tiers.
func New(l2 edgecache.Cache, l3 store.Store, fetch *fetcher.Client, cfg Config) *Pipeline {
	return &Pipeline{l2: l2, l3: l3, fetch: fetch, cfg: cfg}
}

// flightResult is the value shared by the single-flight coordinator; both
// success and failure are carried here so every follower observes the same
// outcome (spec §5).
type flightResult struct {
	bytes         []byte
	contentType   string
	originalSize  int64
	optimizedSize int64
	appErr        *apperr.Error
}

// Resolve runs the tiered lookup described in spec §4.7.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (*Result, *apperr.Error) {
	key := cachekey.Key(req.CacheBaseURL, req.Opts)

	if e, ok := p.l2.Get(key); ok {
		return &Result{Tier: TierL2Edge, Hit: true, Bytes: e.Bytes, ContentType: e.ContentType}, nil
	}

	if obj, ok, err := p.l3.Get(ctx, key); err != nil {
		// Per spec §7, L3 read errors (not benign not-found) ARE surfaced.
		return nil, apperr.Wrap(500, apperr.CodeInternalError, "persistent store read failed", err)
	} else if ok {
		p.l3.TouchAccess(ctx, key)
		backfill := obj
		go func() {
			p.l2.Set(key, edgecache.Entry{Bytes: backfill.Bytes, ContentType: backfill.Meta.ContentType, CachedAt: time.Now().UTC()}, p.cfg.CacheTTL)
		}()
		return &Result{Tier: TierL3Persistent, Hit: true, Bytes: obj.Bytes, ContentType: obj.Meta.ContentType}, nil
	}

	var ranFn bool
	v, _, err := p.flights.Do(key, func() (sf.Outcome, error) {
		ranFn = true
		return p.execute(ctx, req, key), nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, apperr.Wrap(500, apperr.CodeInternalError, "pipeline failure", err)
	}

	fr, _ := v.(flightResult)
	if fr.appErr != nil {
		return nil, p.applyUpstreamErrorMode(req, fr.appErr)
	}

	if ranFn {
		return &Result{
			Tier:          TierOrigin,
			Hit:           false,
			Bytes:         fr.bytes,
			ContentType:   fr.contentType,
			OriginalSize:  fr.originalSize,
			OptimizedSize: fr.optimizedSize,
		}, nil
	}

	// A follower that joined while the leader was in flight effectively
	// received an in-memory hit (spec §4.7 item 10).
	return &Result{
		Tier:          TierL2Edge,
		Hit:           true,
		Bytes:         fr.bytes,
		ContentType:   fr.contentType,
		OptimizedSize: fr.optimizedSize,
	}, nil
}

// execute is the leader's work: fetch, optimize, and kick off fire-and-
// forget cache writes. It never returns a Go error — both outcomes travel
// inside flightResult so every follower observes exactly the same value.
func (p *Pipeline) execute(ctx context.Context, req Request, key string) flightResult {
	fres, ferr := p.fetch.Fetch(ctx, req.UpstreamURL, p.cfg.FetchTimeout, p.cfg.MaxSizeBytes, p.cfg.AllowedHosts)
	if ferr != nil {
		return flightResult{appErr: ferr}
	}

	outBytes := fres.Bytes
	outType := fres.ContentType
	var width, height int

	if optRes, oerr := optimizer.Optimize(fres.Bytes, req.Opts); oerr != nil {
		log.Warn().Err(oerr).Str("key", key).Msg("optimizer failed, serving original bytes")
	} else {
		outBytes = optRes.Bytes
		outType = optRes.ContentType
		width, height = optRes.Width, optRes.Height
	}

	meta := store.Meta{
		ContentType:  outType,
		OriginalSize: fres.OriginalSize,
		CachedSize:   int64(len(outBytes)),
		Width:        width,
		Height:       height,
		WorkspaceID:  req.WorkspaceID,
		BlockID:      req.BlockID,
		OriginalURL:  req.CacheBaseURL,
		CachedAt:     time.Now().UTC(),
	}

	p.writeBack(key, outBytes, meta)

	return flightResult{
		bytes:         outBytes,
		contentType:   outType,
		originalSize:  fres.OriginalSize,
		optimizedSize: int64(len(outBytes)),
	}
}

// writeBack issues the fire-and-forget L3 and L2 writes described in spec
// §4.7/§5. Neither write is awaited by the response path; both are logged
// on failure and never surfaced to the caller.
func (p *Pipeline) writeBack(key string, bytes []byte, meta store.Meta) {
	go func() {
		bg := context.Background()
		if err := p.l3.Put(bg, key, bytes, meta); err != nil {
			log.Warn().Err(err).Str("key", key).Str("tag", "infrastructure_degraded").Msg("L3 write failed")
		}
	}()
	go func() {
		p.l2.Set(key, edgecache.Entry{Bytes: bytes, ContentType: meta.ContentType, CachedAt: time.Now().UTC()}, p.cfg.CacheTTL)
	}()
}

// applyUpstreamErrorMode rewrites fetcher errors to IMAGE_NOT_CACHED in
// cache-miss mode (used by the stable-path route, which cannot refresh an
// expired signature on its own), or relays them verbatim otherwise.
func (p *Pipeline) applyUpstreamErrorMode(req Request, err *apperr.Error) *apperr.Error {
	if req.UpstreamErrorMode != ModeCacheMiss {
		return err
	}
	switch err.Status {
	case 403, 404, 502:
		return apperr.New(404, apperr.CodeImageNotCached,
			"image is not cached yet; prime the cache via the explicit-url route first")
	default:
		return err
	}
}

// Purge deletes every variant of baseURL from both tiers.
func (p *Pipeline) Purge(ctx context.Context, baseURL string) error {
	prefix := cachekey.Prefix(baseURL)
	p.l2.DeleteByPrefix(prefix)
	return p.l3.DeleteByPrefix(ctx, prefix)
}

// RequestIDFromContext is a small convenience re-export so handlers don't
// need to import internal/reqid solely for logging.
func RequestIDFromContext(ctx context.Context) string {
	return reqid.FromContext(ctx)
}
