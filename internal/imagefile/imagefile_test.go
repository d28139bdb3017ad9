package imagefile

import (
	"bytes"
	"encoding/base64"
	goimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestScan_FiltersByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", "c.jpeg", "d.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

	got, err := Scan(dir, nil)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG"), filepath.Join(dir, "c.jpeg")}, got)

	got, err = Scan(dir, []string{"webp"})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "d.webp")}, got)

	_, err = Scan(filepath.Join(dir, "missing"), nil)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_SmallPNGKeepsBytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 4, 3)

	img, err := Load(path, 0)
	require.NoError(t, err)
	require.Equal(t, "image/png", img.MimeType)
	require.Equal(t, 4, img.Width)
	require.False(t, img.Resized)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw), img.DataURL())
}

func TestLoad_ShrinksLargeImages(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wide.png")
	writePNG(t, path, 400, 100)

	img, err := Load(path, 200)
	require.NoError(t, err)
	require.True(t, img.Resized)
	require.Equal(t, "image/jpeg", img.MimeType)
	require.Equal(t, 200, img.Width)
	require.Equal(t, 50, img.Height)
	require.True(t, strings.HasPrefix(img.DataURL(), "data:image/jpeg;base64,"))
}

func TestLoad_ReencodesBMP(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scan.bmp")
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, goimage.NewRGBA(goimage.Rect(0, 0, 8, 8))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := Load(path, 0)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", img.MimeType)
	require.True(t, img.Resized)
}

func TestLoad_RejectsNonImages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fake.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	_, err := Load(path, 0)
	require.ErrorIs(t, err, ErrNotImage)

	_, err = Load(filepath.Join(dir, "missing.png"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(dir, 0)
	require.ErrorIs(t, err, ErrNotImage)
}
