// Package imagefile finds images on disk and loads them as data URLs for vision models.
package imagefile

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	goimage "image"
	"image/jpeg"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

const (
	DefaultMaxDimension = 2048
	maxFileBytes        = 32 << 20
)

var ErrNotImage = errors.New("not a supported image")

// Scan lists image files directly under dir whose extension matches, case-insensitively.
// Results are sorted by name.
func Scan(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if HasExtension(e.Name(), exts) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

func HasExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, want := range exts {
		want = strings.ToLower(strings.TrimSpace(want))
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if ext == want {
			return true
		}
	}
	return false
}

type Image struct {
	Path     string
	MimeType string
	Width    int
	Height   int
	// Resized is true when the file was scaled down or re-encoded as JPEG.
	Resized bool
	data    []byte
}

// DataURL returns the image as a base64 data: URL.
func (img Image) DataURL() string {
	return "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.data)
}

func (img Image) Bytes() []byte {
	return append([]byte(nil), img.data...)
}

// Load reads and sniffs an image. Images larger than maxDim on either side are scaled down;
// maxDim <= 0 uses DefaultMaxDimension.
func Load(path string, maxDim int) (Image, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	st, err := os.Stat(path)
	if err != nil {
		return Image{}, err
	}
	if st.IsDir() {
		return Image{}, fmt.Errorf("%w: %s is a directory", ErrNotImage, path)
	}
	if st.Size() > maxFileBytes {
		return Image{}, fmt.Errorf("%w: %s is larger than %d bytes", ErrNotImage, path, maxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	cfg, format, err := goimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %v", ErrNotImage, path, err)
	}
	img := Image{Path: path, MimeType: mimeFor(format), Width: cfg.Width, Height: cfg.Height, data: data}
	if cfg.Width <= maxDim && cfg.Height <= maxDim && img.MimeType != "" {
		return img, nil
	}
	return shrink(img, maxDim)
}

func shrink(img Image, maxDim int) (Image, error) {
	src, _, err := goimage.Decode(bytes.NewReader(img.data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %v", ErrNotImage, img.Path, err)
	}
	w, h := fitDimensions(img.Width, img.Height, maxDim)
	dst := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return Image{}, fmt.Errorf("encode %s: %w", img.Path, err)
	}
	img.data = buf.Bytes()
	img.MimeType = "image/jpeg"
	img.Width, img.Height = w, h
	img.Resized = true
	return img, nil
}

func fitDimensions(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

// mimeFor maps a registered decoder name to a MIME type. Formats vision APIs rarely accept
// (bmp, tiff) return "" so Load re-encodes them.
func mimeFor(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}
