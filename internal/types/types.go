package types

import "fmt"

// Box is an axis-aligned rectangle in pixel coordinates: [x1, y1, x2, y2].
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Slice returns the box as the [x1, y1, x2, y2] tuple the engine expects.
func (b Box) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

func (b Box) String() string {
	return fmt.Sprintf("[%.1f, %.1f, %.1f, %.1f]", b.X1, b.Y1, b.X2, b.Y2)
}

// Resolution is the (height, width) of a decoded frame.
type Resolution struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// DetectedFace is one face found in a frame by the face capability.
type DetectedFace struct {
	Box        Box
	Confidence float64
	Embedding  []float64
}

// IdentityMatch binds a detected face to the closest gallery character.
type IdentityMatch struct {
	Name       string  `json:"name"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// Region is a named box handed to mask propagation.
type Region struct {
	Name string `json:"name,omitempty"`
	Box  Box    `json:"box"`
}

// Regions is the ordered region list. Position i is tracked as object id i+1
// from prompt building through propagation and into the mask batch.
type Regions []Region

// ObjectIDs returns the 1-based object ids in creation order.
func (r Regions) ObjectIDs() []int {
	ids := make([]int, len(r))
	for i := range r {
		ids[i] = i + 1
	}
	return ids
}

// Names returns the region names in order.
func (r Regions) Names() []string {
	names := make([]string, len(r))
	for i, reg := range r {
		names[i] = reg.Name
	}
	return names
}

// PromptSpec is the grounding prompt plus the regions its [<region>] tokens refer to.
type PromptSpec struct {
	Text    string  `json:"text"`
	Regions Regions `json:"regions"`
}

// SampledBatch is the aligned input for the generation capability.
// Masks are laid out object-major: all sampled frames of object 1, then object 2, ...
type SampledBatch struct {
	VideoPath    string
	FrameIndices []int
	ObjectIDs    []int
	Masks        []Mask
	AnnIndices   [][]int
	FrameNums    []int
}

// MaskAt returns the mask of the i-th object (0-based) at the j-th sampled frame.
func (b SampledBatch) MaskAt(i, j int) Mask {
	return b.Masks[i*len(b.FrameIndices)+j]
}

// GenerateRequest is what the pipeline hands to the generation capability.
type GenerateRequest struct {
	VideoPath    string
	Prompt       string
	FrameIndices []int
	Masks        []Mask
	AnnIndices   [][]int
	FrameNums    []int
}

// NewGenerateRequest pairs a prompt with its aligned batch.
func NewGenerateRequest(prompt string, batch SampledBatch) GenerateRequest {
	return GenerateRequest{
		VideoPath:    batch.VideoPath,
		Prompt:       prompt,
		FrameIndices: batch.FrameIndices,
		Masks:        batch.Masks,
		AnnIndices:   batch.AnnIndices,
		FrameNums:    batch.FrameNums,
	}
}
