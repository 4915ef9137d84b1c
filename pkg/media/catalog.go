package media

import (
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const (
	thumbnailFile  = "thumb.jpg"
	manifestFile   = "meta.json"
	framesDir      = "frames"
	thumbCacheSize = 64
)

// Catalog is the read-only video library rooted at a directory. It is
// safe for concurrent use by every connection.
type Catalog struct {
	root   string
	thumbs *lru.Cache
}

// OpenCatalog opens the video library at root.
func OpenCatalog(root string) (*Catalog, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("catalog root %s is not a directory", root)
	}
	cache, err := lru.New(thumbCacheSize)
	if err != nil {
		return nil, err
	}
	return &Catalog{root: root, thumbs: cache}, nil
}

// List returns the available video identifiers in lexical order.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, errors.Wrap(err, "list videos")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Thumbnail returns the encoded thumbnail for a video. Thumbnails are
// immutable, so encoded bytes are cached.
func (c *Catalog) Thumbnail(id string) ([]byte, error) {
	if cached, ok := c.thumbs.Get(id); ok {
		return cached.([]byte), nil
	}
	data, err := os.ReadFile(filepath.Join(c.root, id, thumbnailFile))
	if err != nil {
		return nil, errors.Wrapf(err, "thumbnail for %s", id)
	}
	c.thumbs.Add(id, data)
	return data, nil
}

// Open returns a fresh cursor over the video's frames, positioned at
// frame zero.
func (c *Catalog) Open(id string) (*Source, error) {
	return openSource(filepath.Join(c.root, id))
}
