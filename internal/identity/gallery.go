package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/focusedad/internal/types"
)

// galleryExts are the reference image suffixes. Matching is case-sensitive.
var galleryExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// GalleryEntry is one reference image of a named character.
type GalleryEntry struct {
	Name string // file name without extension
	Path string
}

// LoadGallery lists the reference images directly inside dir, sorted by file name.
// Subdirectories are not searched.
func LoadGallery(dir string) ([]GalleryEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read gallery %s: %v", types.ErrResourceUnavailable, dir, err)
	}

	// os.ReadDir returns entries sorted by file name
	var gallery []GalleryEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !galleryExts[ext] {
			continue
		}
		gallery = append(gallery, GalleryEntry{
			Name: strings.TrimSuffix(e.Name(), ext),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	return gallery, nil
}
