package descriptor

import (
	"context"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/localphoto/photovault/internal/store"
)

// EXIFWorker extracts camera/capture metadata. Absent or corrupt EXIF
// data produces an empty record, never a failure — per spec, a photo
// with no usable EXIF is still successfully "processed."
type EXIFWorker struct{}

func NewEXIFWorker() *EXIFWorker { return &EXIFWorker{} }

func (w *EXIFWorker) IsAvailable(ctx context.Context) bool { return true }

// Extract reads EXIF tags from the file at in.Path. It never returns
// an error for missing/corrupt EXIF data — callers get a zero-value
// record with PhotoID set, which PutExif persists as-is.
func (w *EXIFWorker) Extract(ctx context.Context, in Input) *store.ExifRecord {
	rec := &store.ExifRecord{PhotoID: in.PhotoID}

	f, err := os.Open(in.Path)
	if err != nil {
		return rec
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return rec
	}

	if t, err := x.DateTime(); err == nil {
		rec.CaptureDT = &t
	}
	rec.CameraMake = tagString(x, exif.Make)
	rec.CameraModel = tagString(x, exif.Model)
	rec.Lens = tagString(x, exif.LensModel)
	rec.ISO = tagInt(x, exif.ISOSpeedRatings)
	rec.Aperture = tagRationalFloat(x, exif.FNumber)
	rec.ShutterSpeed = tagString(x, exif.ExposureTime)
	rec.FocalLength = tagRationalFloat(x, exif.FocalLength)
	rec.Orientation = tagInt(x, exif.Orientation)
	if rec.Orientation == 0 {
		rec.Orientation = 1
	}

	if lat, lon, err := x.LatLong(); err == nil {
		rec.GPSLat = &lat
		rec.GPSLon = &lon
	}

	return rec
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return strings.Trim(tag.String(), "\"")
	}
	return s
}

func tagInt(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func tagRationalFloat(x *exif.Exif, name exif.FieldName) float64 {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	num, denom, err := tag.Rat2(0)
	if err != nil || denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
