package identity

import (
	"context"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/metrics"
	"github.com/andresmejia3/focusedad/internal/types"
	"github.com/andresmejia3/focusedad/internal/utils"
)

const (
	DefaultDetectionThreshold = 0.7
	DefaultMatchThreshold     = 1.3
)

// FaceDetector finds faces in an encoded image and embeds each of them.
// An image without faces yields an empty slice and a nil error.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img []byte) ([]types.DetectedFace, error)
}

// EmbeddingCache stores gallery embeddings by the sha256 of the image bytes.
type EmbeddingCache interface {
	GalleryEmbedding(ctx context.Context, hash string) ([]float64, bool, error)
	SaveGalleryEmbedding(ctx context.Context, hash, name string, embedding []float64) error
}

// Result is the outcome of one Match call. Reason is set when nothing could
// be matched for a reason other than "no face was close enough".
type Result struct {
	Matches []types.IdentityMatch
	Reason  error
}

// Matcher binds faces detected in a frame to named reference images.
type Matcher struct {
	DetectionThreshold float64 // faces below this confidence are ignored
	MatchThreshold     float64 // a match needs a distance strictly below this
	Cache              EmbeddingCache

	detector FaceDetector
	logger   *zap.Logger
}

func NewMatcher(detector FaceDetector, logger *zap.Logger) *Matcher {
	return &Matcher{
		DetectionThreshold: DefaultDetectionThreshold,
		MatchThreshold:     DefaultMatchThreshold,
		detector:           detector,
		logger:             logger,
	}
}

type galleryFace struct {
	name      string
	embedding []float64
}

// Match detects every face in the image at framePath and names the ones
// close enough to a character in galleryDir. Detection or gallery problems
// are soft: they are logged and reported in Result.Reason with a nil error.
// Only empty paths produce an error.
func (m *Matcher) Match(ctx context.Context, framePath, galleryDir string) (Result, error) {
	if framePath == "" {
		return Result{}, fmt.Errorf("%w: frame path is empty", types.ErrInputValidation)
	}
	if galleryDir == "" {
		return Result{}, fmt.Errorf("%w: gallery dir is empty", types.ErrInputValidation)
	}

	img, err := os.ReadFile(framePath)
	if err != nil {
		return m.soft(fmt.Errorf("%w: read frame: %v", types.ErrResourceUnavailable, err)), nil
	}

	faces, err := m.detector.DetectFaces(ctx, img)
	if err != nil {
		return m.soft(fmt.Errorf("detect faces in frame: %w", err)), nil
	}

	var candidates []types.DetectedFace
	for _, f := range faces {
		if f.Confidence < m.DetectionThreshold {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return m.soft(fmt.Errorf("%w: no face above confidence %.2f in frame", types.ErrNoDetection, m.DetectionThreshold)), nil
	}

	gallery, err := m.loadGallery(ctx, galleryDir)
	if err != nil {
		return m.soft(err), nil
	}
	if len(gallery) == 0 {
		return m.soft(fmt.Errorf("%w: no usable gallery images in %s", types.ErrNoDetection, galleryDir)), nil
	}

	var matches []types.IdentityMatch
	for _, f := range candidates {
		best := -1
		bestDist := math.Inf(1)
		for i, g := range gallery {
			// Strict comparison keeps the first entry on ties
			if d := L2Distance(f.Embedding, g.embedding); d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 || bestDist >= m.MatchThreshold {
			m.logger.Debug("face not matched", zap.Stringer("box", f.Box), zap.Float64("distance", bestDist))
			continue
		}
		matches = append(matches, types.IdentityMatch{
			Name:       gallery[best].name,
			Box:        f.Box,
			Confidence: f.Confidence,
			Distance:   bestDist,
		})
	}

	metrics.IdentityMatchesTotal.Add(float64(len(matches)))
	m.logger.Info("identity matching done",
		zap.Int("faces", len(faces)),
		zap.Int("candidates", len(candidates)),
		zap.Int("gallery", len(gallery)),
		zap.Int("matches", len(matches)))
	return Result{Matches: matches}, nil
}

func (m *Matcher) soft(reason error) Result {
	m.logger.Warn("identity matching yielded nothing", zap.Error(reason))
	return Result{Reason: reason}
}

// loadGallery embeds every reference image once. Images that cannot be read
// or contain no face are logged and skipped.
func (m *Matcher) loadGallery(ctx context.Context, dir string) ([]galleryFace, error) {
	entries, err := LoadGallery(dir)
	if err != nil {
		return nil, err
	}

	var out []galleryFace
	for _, e := range entries {
		emb, err := m.embed(ctx, e)
		if err != nil {
			m.logger.Warn("skipping gallery image", zap.String("name", e.Name), zap.String("path", e.Path), zap.Error(err))
			continue
		}
		out = append(out, galleryFace{name: e.Name, embedding: emb})
	}
	return out, nil
}

func (m *Matcher) embed(ctx context.Context, e GalleryEntry) ([]float64, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResourceUnavailable, err)
	}

	hash := utils.HashBytes(data)
	if m.Cache != nil {
		emb, ok, err := m.Cache.GalleryEmbedding(ctx, hash)
		if err != nil {
			m.logger.Warn("embedding cache lookup failed", zap.String("name", e.Name), zap.Error(err))
		} else if ok {
			return emb, nil
		}
	}

	faces, err := m.detector.DetectFaces(ctx, data)
	if err != nil {
		return nil, err
	}
	face, ok := mostConfident(faces)
	if !ok {
		return nil, types.ErrNoDetection
	}

	if m.Cache != nil {
		if err := m.Cache.SaveGalleryEmbedding(ctx, hash, e.Name, face.Embedding); err != nil {
			m.logger.Warn("embedding cache store failed", zap.String("name", e.Name), zap.Error(err))
		}
	}
	return face.Embedding, nil
}

// mostConfident picks the highest-confidence face; the first one wins on ties.
func mostConfident(faces []types.DetectedFace) (types.DetectedFace, bool) {
	if len(faces) == 0 {
		return types.DetectedFace{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}

// L2Distance is the Euclidean distance between two embeddings.
// Embeddings of different dimension are infinitely far apart.
func L2Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

