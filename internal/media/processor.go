// Package media validates and prepares captured assets for the upload queue.
//
// Processing is pure CPU work: no network, no disk writes. Repeated runs over
// identical input produce byte-identical output, so thumbnails are stable
// across retries and in tests.
package media

import (
	"bytes"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
)

// Accepted image content types. Anything else is rejected at capture time.
var acceptedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
}

// Location is a device geolocation fix.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Locator supplies the device's current position. Permission prompts and
// platform sensors live behind this interface, outside the engine.
type Locator interface {
	// Current returns the current fix, or ok=false when the position is
	// unavailable or permission was denied. Unavailability is not an error.
	Current() (loc Location, ok bool)
}

// RawAsset is a captured asset before processing.
type RawAsset struct {
	Data     []byte
	Filename string
}

// Options controls optional processing steps.
type Options struct {
	// IncludeLocation requests a geolocation fix for the asset.
	IncludeLocation bool
}

// Processed is the result of running an asset through the processor.
type Processed struct {
	Data      []byte
	Thumbnail []byte
	Filename  string
	MIME      string
	Width     int
	Height    int

	CapturedAt time.Time
	Location   *Location
}

// Processor compresses assets to a bounded size and derives a thumbnail plus
// capture metadata.
type Processor struct {
	// MaxDimension bounds the longest edge of the stored encoding.
	MaxDimension int
	// ThumbSize bounds both edges of the thumbnail.
	ThumbSize int
	// Quality is the starting JPEG quality; it steps down toward
	// minQuality until the encoding fits TargetBytes.
	Quality int
	// TargetBytes is the byte budget for the stored encoding.
	TargetBytes int
	// Locator is consulted when Options.IncludeLocation is set. May be nil.
	Locator Locator

	now func() time.Time
}

const minQuality = 40

// NewProcessor creates a Processor with production defaults.
func NewProcessor(locator Locator) *Processor {
	return &Processor{
		MaxDimension: 2048,
		ThumbSize:    320,
		Quality:      85,
		TargetBytes:  1 << 20, // 1 MiB
		Locator:      locator,
		now:          time.Now,
	}
}

// Process validates raw and derives the compressed encoding, thumbnail, and
// capture metadata. Validation failures are coded errors the capture API
// surfaces synchronously; nothing is ever queued for an invalid asset.
func (p *Processor) Process(raw RawAsset, opts Options) (*Processed, error) {
	if len(raw.Data) == 0 {
		return nil, apperrors.New(apperrors.ErrAssetEmpty, "asset is empty")
	}

	mime := mimetype.Detect(raw.Data)
	if !isAccepted(mime.String()) {
		return nil, apperrors.Newf(apperrors.ErrAssetUnsupported,
			"unsupported asset type %s", mime.String())
	}

	img, err := imaging.Decode(bytes.NewReader(raw.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrAssetInvalid, "decode image", err)
	}

	// EXIF is read from the original bytes; resizing strips it.
	capturedAt, exifLoc := p.exifMetadata(raw.Data)

	out := &Processed{
		Filename:   raw.Filename,
		MIME:       "image/jpeg",
		CapturedAt: capturedAt,
	}

	scaled := p.bound(img)
	out.Width = scaled.Bounds().Dx()
	out.Height = scaled.Bounds().Dy()

	out.Data, err = p.encodeWithinBudget(scaled)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrAssetInvalid, "encode image", err)
	}

	thumb := imaging.Fit(scaled, p.ThumbSize, p.ThumbSize, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrAssetInvalid, "encode thumbnail", err)
	}
	out.Thumbnail = thumbBuf.Bytes()

	if opts.IncludeLocation {
		if p.Locator != nil {
			if loc, ok := p.Locator.Current(); ok {
				out.Location = &loc
			}
		}
		if out.Location == nil && exifLoc != nil {
			out.Location = exifLoc
		}
	}

	return out, nil
}

// bound scales the image down so its longest edge fits MaxDimension.
// Smaller images pass through untouched.
func (p *Processor) bound(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= p.MaxDimension && b.Dy() <= p.MaxDimension {
		return img
	}
	return imaging.Fit(img, p.MaxDimension, p.MaxDimension, imaging.Lanczos)
}

// encodeWithinBudget re-encodes at decreasing quality until the result fits
// the byte budget or the quality floor is reached. The floor result is
// accepted even when over budget; the budget is a target, not a hard cap.
func (p *Processor) encodeWithinBudget(img image.Image) ([]byte, error) {
	var buf bytes.Buffer

	for quality := p.Quality; ; quality -= 10 {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
		if buf.Len() <= p.TargetBytes || quality-10 < minQuality {
			return append([]byte(nil), buf.Bytes()...), nil
		}
	}
}

// exifMetadata extracts the capture timestamp and GPS position from embedded
// EXIF. Missing or unparseable EXIF falls back to the current time; absent
// GPS is nil, not an error.
func (p *Processor) exifMetadata(data []byte) (time.Time, *Location) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return p.now(), nil
	}

	capturedAt := p.now()
	if tm, err := x.DateTime(); err == nil {
		capturedAt = tm
	}

	var loc *Location
	if lat, lng, err := x.LatLong(); err == nil {
		loc = &Location{Lat: lat, Lng: lng}
	}

	return capturedAt, loc
}

func isAccepted(mime string) bool {
	for _, t := range acceptedTypes {
		if mime == t {
			return true
		}
	}
	return false
}
