// Package optimizer implements the decode → resize → transcode → strip
// pipeline of spec §4.4, built on libvips via govips.
package optimizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/yourname/notion-image-proxy/internal/cachekey"
)

// maxDecodedPixels guards against decompression bombs (spec §4.4, ≈2.68e8).
const maxDecodedPixels = 268_000_000

var initOnce sync.Once

func ensureInit() {
	initOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheMem:      0,
			ConcurrencyLevel: 0,
		})
	})
}

// Result is the output of an optimize pass.
type Result struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
}

// Negotiate applies content negotiation (spec §4.4): an explicit client
// format (from query params) always wins; otherwise an Accept header
// advertising avif or webp steers the otherwise-untouched format.
func Negotiate(opts cachekey.Options, accept string) cachekey.Options {
	if opts.Format != "" {
		return opts
	}
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "image/avif"):
		opts.Format = cachekey.FormatAVIF
	case strings.Contains(accept, "image/webp"):
		opts.Format = cachekey.FormatWebP
	}
	return opts
}

// Optimize decodes bytes, applies opts, and re-encodes. If opts is empty it
// returns bytes unchanged with a probed content type. Any decode/encode
// failure is returned as an error; per spec §4.4 the *caller* is
// responsible for falling back to the original bytes — this function never
// silently substitutes them.
func Optimize(bytes []byte, opts cachekey.Options) (*Result, error) {
	ensureInit()

	if opts.IsEmpty() {
		ct, w, h := probe(bytes)
		return &Result{Bytes: bytes, ContentType: ct, Width: w, Height: h}, nil
	}

	img, err := vips.NewImageFromBuffer(bytes)
	if err != nil {
		return nil, fmt.Errorf("optimizer: decode failed: %w", err)
	}
	defer img.Close()

	if img.Width()*img.Height() > maxDecodedPixels {
		return nil, fmt.Errorf("optimizer: decoded pixel count exceeds the %d budget", maxDecodedPixels)
	}

	if err := img.AutoRotate(); err != nil {
		return nil, fmt.Errorf("optimizer: auto-rotate failed: %w", err)
	}

	if opts.Width > 0 || opts.Height > 0 {
		if err := resize(img, opts); err != nil {
			return nil, fmt.Errorf("optimizer: resize failed: %w", err)
		}
	}

	img.RemoveMetadata()

	out, contentType, err := encode(img, opts)
	if err != nil {
		return nil, fmt.Errorf("optimizer: encode failed: %w", err)
	}

	return &Result{
		Bytes:       out,
		ContentType: contentType,
		Width:       img.Width(),
		Height:      img.Height(),
	}, nil
}

func resize(img *vips.ImageRef, opts cachekey.Options) error {
	fit := opts.Fit
	if fit == "" {
		fit = cachekey.FitInside
	}

	origW, origH := img.Width(), img.Height()
	targetW, targetH := targetDimensions(origW, origH, opts.Width, opts.Height, fit)

	// Never upscale: clamp the target to the original dimensions.
	if targetW >= origW && targetH >= origH {
		return nil
	}
	if targetW > origW {
		targetW = origW
	}
	if targetH > origH {
		targetH = origH
	}
	if targetW <= 0 {
		targetW = 1
	}
	if targetH <= 0 {
		targetH = 1
	}

	switch fit {
	case cachekey.FitFill:
		return img.Thumbnail(targetW, targetH, vips.InterestingNone)
	case cachekey.FitCover:
		return img.Thumbnail(targetW, targetH, vips.InterestingCentre)
	case cachekey.FitContain, cachekey.FitInside:
		scale := fitScale(origW, origH, targetW, targetH, true)
		return img.Resize(scale, vips.KernelLanczos3)
	case cachekey.FitOutside:
		scale := fitScale(origW, origH, targetW, targetH, false)
		return img.Resize(scale, vips.KernelLanczos3)
	default:
		return img.Thumbnail(targetW, targetH, vips.InterestingNone)
	}
}

// targetDimensions fills in a missing width or height proportionally, per
// the aspect ratio of the source image.
func targetDimensions(origW, origH, w, h int, fit cachekey.Fit) (int, int) {
	if w > 0 && h > 0 {
		return w, h
	}
	if w > 0 {
		h = int(float64(w) * float64(origH) / float64(origW))
		return w, h
	}
	if h > 0 {
		w = int(float64(h) * float64(origW) / float64(origH))
		return w, h
	}
	return origW, origH
}

func fitScale(origW, origH, targetW, targetH int, inside bool) float64 {
	sx := float64(targetW) / float64(origW)
	sy := float64(targetH) / float64(origH)
	if inside {
		if sx < sy {
			return sx
		}
		return sy
	}
	if sx > sy {
		return sx
	}
	return sy
}

func encode(img *vips.ImageRef, opts cachekey.Options) ([]byte, string, error) {
	quality := opts.Quality
	if quality <= 0 {
		quality = 80
	}

	switch opts.Format {
	case cachekey.FormatWebP:
		out, _, err := img.ExportWebp(&vips.WebpExportParams{Quality: quality, ReductionEffort: 4})
		return out, "image/webp", err
	case cachekey.FormatAVIF:
		out, _, err := img.ExportAvif(&vips.AvifExportParams{Quality: quality, Speed: 5})
		return out, "image/avif", err
	case cachekey.FormatPNG:
		out, _, err := img.ExportPng(&vips.PngExportParams{Compression: 6})
		return out, "image/png", err
	case cachekey.FormatJPEG:
		out, _, err := img.ExportJpeg(&vips.JpegExportParams{Quality: quality, OptimizeCoding: true})
		return out, "image/jpeg", err
	default:
		// original/absent: re-encode in the format the decoder detected.
		switch img.Format() {
		case vips.ImageTypePNG:
			out, _, err := img.ExportPng(&vips.PngExportParams{Compression: 6})
			return out, "image/png", err
		case vips.ImageTypeWEBP:
			out, _, err := img.ExportWebp(&vips.WebpExportParams{Quality: quality})
			return out, "image/webp", err
		case vips.ImageTypeAVIF:
			out, _, err := img.ExportAvif(&vips.AvifExportParams{Quality: quality})
			return out, "image/avif", err
		default:
			out, _, err := img.ExportJpeg(&vips.JpegExportParams{Quality: quality})
			return out, "image/jpeg", err
		}
	}
}

// probe reads just enough of bytes to report the decoded content type and
// dimensions without a full decode/encode round trip.
func probe(bytes []byte) (contentType string, width, height int) {
	img, err := vips.NewImageFromBuffer(bytes)
	if err != nil {
		return "application/octet-stream", 0, 0
	}
	defer img.Close()
	return mimeFromVipsType(img.Format()), img.Width(), img.Height()
}

func mimeFromVipsType(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "image/jpeg"
	case vips.ImageTypePNG:
		return "image/png"
	case vips.ImageTypeWEBP:
		return "image/webp"
	case vips.ImageTypeAVIF:
		return "image/avif"
	case vips.ImageTypeGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
