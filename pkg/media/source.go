package media

import (
	"encoding/json"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type manifest struct {
	FPS float64 `json:"fps"`
}

// Source is a cursor over one video's frame sequence. It belongs to a
// single connection and is not safe for concurrent use.
type Source struct {
	frames []string
	pos    int
	fps    float64
}

func openSource(dir string) (*Source, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if m.FPS <= 0 {
		return nil, errors.Errorf("manifest declares invalid fps %v", m.FPS)
	}

	entries, err := os.ReadDir(filepath.Join(dir, framesDir))
	if err != nil {
		return nil, errors.Wrap(err, "read frames")
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		frames = append(frames, filepath.Join(dir, framesDir, e.Name()))
	}
	sort.Strings(frames)

	return &Source{frames: frames, fps: m.FPS}, nil
}

// Details returns the frame rate and total frame count.
func (s *Source) Details() (fps float64, frames int) {
	return s.fps, len(s.frames)
}

// Read decodes the frame at the cursor and advances it. Returns io.EOF
// once the sequence is exhausted.
func (s *Source) Read() (image.Image, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	data, err := os.ReadFile(s.frames[s.pos])
	if err != nil {
		return nil, errors.Wrapf(err, "read frame %d", s.pos)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", s.pos)
	}
	s.pos++
	return img, nil
}

// Seek repositions the cursor, clamping into [0, frame count], and
// returns the accepted index.
func (s *Source) Seek(index int) int {
	if index < 0 {
		index = 0
	}
	if index > len(s.frames) {
		index = len(s.frames)
	}
	s.pos = index
	return index
}

// Position returns the index of the next frame Read will return.
func (s *Source) Position() int {
	return s.pos
}
