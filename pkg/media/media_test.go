package media

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayFrame returns a uniform gray image whose level encodes the frame
// index, surviving JPEG round trips within a small tolerance.
func grayFrame(index, size int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	level := uint8((index * 20) % 256)
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

func grayLevel(img image.Image) int {
	r, _, _, _ := img.At(img.Bounds().Min.X+1, img.Bounds().Min.Y+1).RGBA()
	return int(r >> 8)
}

func writeFixtureVideo(t *testing.T, root, id string, fps float64, frames int) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, framesDir), 0o755))

	meta := fmt.Sprintf(`{"fps": %g}`, fps)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(meta), 0o644))

	thumb, err := Encode(grayFrame(0, 16))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, thumbnailFile), thumb, 0o644))

	for i := 0; i < frames; i++ {
		data, err := Encode(grayFrame(i, 8))
		require.NoError(t, err)
		name := fmt.Sprintf("frame_%06d.jpg", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, framesDir, name), data, 0o644))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := grayFrame(3, 12)
	data, err := Encode(src)
	require.NoError(t, err)

	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), img.Bounds())
	assert.InDelta(t, grayLevel(src), grayLevel(img), 4)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not a jpeg"))
	assert.Error(t, err)
}

func TestCatalogList(t *testing.T) {
	root := t.TempDir()
	writeFixtureVideo(t, root, "city", 10, 3)
	writeFixtureVideo(t, root, "nature", 25, 5)

	c, err := OpenCatalog(root)
	require.NoError(t, err)

	ids, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "nature"}, ids)
}

func TestCatalogThumbnail(t *testing.T) {
	root := t.TempDir()
	writeFixtureVideo(t, root, "city", 10, 1)

	c, err := OpenCatalog(root)
	require.NoError(t, err)

	thumb, err := c.Thumbnail("city")
	require.NoError(t, err)
	assert.NotEmpty(t, thumb)

	// Cached bytes should come back identical.
	again, err := c.Thumbnail("city")
	require.NoError(t, err)
	assert.Equal(t, thumb, again)

	_, err = c.Thumbnail("missing")
	assert.Error(t, err)
}

func TestCatalogOpenMissing(t *testing.T) {
	c, err := OpenCatalog(t.TempDir())
	require.NoError(t, err)
	_, err = c.Open("nope")
	assert.Error(t, err)
}

func TestSourceDetailsAndRead(t *testing.T) {
	root := t.TempDir()
	writeFixtureVideo(t, root, "city", 12.5, 4)

	c, err := OpenCatalog(root)
	require.NoError(t, err)
	src, err := c.Open("city")
	require.NoError(t, err)

	fps, frames := src.Details()
	assert.Equal(t, 12.5, fps)
	assert.Equal(t, 4, frames)

	for i := 0; i < 4; i++ {
		img, err := src.Read()
		require.NoError(t, err)
		assert.InDelta(t, (i*20)%256, grayLevel(img), 6, "frame %d", i)
	}

	_, err = src.Read()
	assert.Equal(t, io.EOF, err)
}

func TestSourceSeek(t *testing.T) {
	root := t.TempDir()
	writeFixtureVideo(t, root, "city", 10, 20)

	c, err := OpenCatalog(root)
	require.NoError(t, err)
	src, err := c.Open("city")
	require.NoError(t, err)

	assert.Equal(t, 10, src.Seek(10))
	assert.Equal(t, 10, src.Position())

	img, err := src.Read()
	require.NoError(t, err)
	assert.InDelta(t, (10*20)%256, grayLevel(img), 6)
	assert.Equal(t, 11, src.Position())

	// Out-of-range targets clamp.
	assert.Equal(t, 0, src.Seek(-5))
	assert.Equal(t, 20, src.Seek(999))
	_, err = src.Read()
	assert.Equal(t, io.EOF, err)
}

func TestSourceRejectsBadManifest(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, framesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(`{"fps": 0}`), 0o644))

	c, err := OpenCatalog(root)
	require.NoError(t, err)
	_, err = c.Open("broken")
	assert.Error(t, err)
}
