package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/focusedad/internal/types"
)

// Scene is one video plus the side inputs found next to it in the data directory:
//
//	<data>/video/<id>.mp4
//	<data>/character/<id>/*.png|jpg|jpeg
//	<data>/text_prior/<id>.txt   (optional)
//	<data>/temp/<id>_frame0.png  (written by the pipeline)
type Scene struct {
	ID           string
	VideoPath    string
	CharacterDir string
	Frame0Path   string
	TextPrior    string // opaque; carried and persisted, never sent to a model
	PriorErr     error  // set when a text prior exists but could not be read
}

// DiscoverScenes returns one scene per .mp4 file in <dataDir>/video, ordered by id.
func DiscoverScenes(dataDir string) ([]Scene, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "video"))
	if err != nil {
		return nil, fmt.Errorf("%w: list videos: %v", types.ErrResourceUnavailable, err)
	}

	var scenes []Scene
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
			continue
		}
		scenes = append(scenes, LoadScene(dataDir, strings.TrimSuffix(e.Name(), ".mp4")))
	}
	return scenes, nil
}

// LoadScene resolves the paths of scene id and reads its text prior if there is one.
// An unreadable prior leaves TextPrior empty and is reported in PriorErr.
func LoadScene(dataDir, id string) Scene {
	s := Scene{
		ID:           id,
		VideoPath:    filepath.Join(dataDir, "video", id+".mp4"),
		CharacterDir: filepath.Join(dataDir, "character", id),
		Frame0Path:   filepath.Join(dataDir, "temp", id+"_frame0.png"),
	}

	prior, err := os.ReadFile(filepath.Join(dataDir, "text_prior", id+".txt"))
	switch {
	case err == nil:
		s.TextPrior = string(prior)
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.PriorErr = fmt.Errorf("read text prior for %s: %w", id, err)
	}
	return s
}

// NewScene builds a scene for a video outside the data layout. The frame-0
// image goes to tempDir.
func NewScene(videoPath, characterDir, tempDir string) Scene {
	id := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return Scene{
		ID:           id,
		VideoPath:    videoPath,
		CharacterDir: characterDir,
		Frame0Path:   filepath.Join(tempDir, id+"_frame0.png"),
	}
}
