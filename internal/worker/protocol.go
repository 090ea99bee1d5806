package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andresmejia3/focusedad/internal/segment"
	"github.com/andresmejia3/focusedad/internal/types"
)

// Request ops.
const (
	opDetect       byte = 1
	opSegInit      byte = 2
	opSegAddBox    byte = 3
	opSegPropagate byte = 4
	opGenerate     byte = 5
	opSegRelease   byte = 6
)

// Response statuses.
const (
	statusOK     byte = 0
	statusError  byte = 1
	statusItem   byte = 2 // one streamed propagation frame
	statusEndOfS byte = 3 // end of stream
)

// maxEmbeddingDim guards against allocating garbage-sized vectors from a corrupt frame.
const maxEmbeddingDim = 4096

// decodeError unpacks an error payload: [MsgLen][Msg]
func decodeError(payload []byte) error {
	r := bytes.NewReader(payload)
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return fmt.Errorf("malformed engine error: %w", err)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("malformed engine error: %w", err)
	}
	return fmt.Errorf("engine error: %s", msg)
}

// decodeFaces unpacks a detect response:
// [NumFaces] then per face [Box 4xf32] [Confidence f32] [Dim u32] [Vec Dim x f32]
func decodeFaces(payload []byte) ([]types.DetectedFace, error) {
	r := bytes.NewReader(payload)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}

	faces := make([]types.DetectedFace, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		var conf float32
		if err := binary.Read(r, binary.BigEndian, &conf); err != nil {
			return nil, fmt.Errorf("face %d confidence: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d dim: %w", i, err)
		}
		if dim > maxEmbeddingDim {
			return nil, fmt.Errorf("face %d: embedding dim %d exceeds %d", i, dim, maxEmbeddingDim)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("face %d embedding: %w", i, err)
		}

		emb := make([]float64, dim)
		for j, v := range vec {
			emb[j] = float64(v)
		}
		faces = append(faces, types.DetectedFace{
			Box:        types.Box{X1: float64(box[0]), Y1: float64(box[1]), X2: float64(box[2]), Y2: float64(box[3])},
			Confidence: float64(conf),
			Embedding:  emb,
		})
	}
	return faces, nil
}

// encodeAddBox packs [StateLen][State][FrameIdx u32][ObjectID u32][Box 4xf32]
func encodeAddBox(state segment.StateID, frameIdx, objectID int, box types.Box) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(len(state)))
	buf.WriteString(string(state))
	binary.Write(buf, binary.BigEndian, uint32(frameIdx))
	binary.Write(buf, binary.BigEndian, uint32(objectID))
	binary.Write(buf, binary.BigEndian, [4]float32{float32(box.X1), float32(box.Y1), float32(box.X2), float32(box.Y2)})
	return buf.Bytes()
}

// decodeScoreFrame unpacks one streamed propagation item:
// [FrameIdx][Height][Width][NumObjects] then per object [ObjectID][Height x Width f32]
func decodeScoreFrame(payload []byte) (segment.ScoreFrame, error) {
	r := bytes.NewReader(payload)
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return segment.ScoreFrame{}, fmt.Errorf("read frame header: %w", err)
	}
	frameIdx, h, w, n := int(hdr[0]), int(hdr[1]), int(hdr[2]), int(hdr[3])

	// Every object carries 4 bytes of id plus h*w float32 scores
	if need := n * (4 + 4*h*w); r.Len() != need {
		return segment.ScoreFrame{}, fmt.Errorf("frame %d: payload has %d bytes, expected %d", frameIdx, r.Len(), need)
	}

	sf := segment.ScoreFrame{
		FrameIndex: frameIdx,
		ObjectIDs:  make([]int, 0, n),
		Maps:       make([]segment.ScoreMap, 0, n),
	}
	for i := 0; i < n; i++ {
		var objID uint32
		if err := binary.Read(r, binary.BigEndian, &objID); err != nil {
			return segment.ScoreFrame{}, err
		}
		scores := make([]float32, h*w)
		if err := binary.Read(r, binary.BigEndian, scores); err != nil {
			return segment.ScoreFrame{}, err
		}
		sf.ObjectIDs = append(sf.ObjectIDs, int(objID))
		sf.Maps = append(sf.Maps, segment.ScoreMap{Width: w, Height: h, Scores: scores})
	}
	return sf, nil
}

// generateHeader is the JSON part of a generate request. Masks follow it as
// MaskCount packed bitmaps of MaskWidth x MaskHeight, in batch order.
type generateHeader struct {
	VideoPath    string  `json:"video_path"`
	Prompt       string  `json:"prompt"`
	FrameIndices []int   `json:"frame_indices"`
	AnnIndices   [][]int `json:"ann_indices"`
	FrameNums    []int   `json:"frame_nums"`
	MaskCount    int     `json:"mask_count"`
	MaskWidth    int     `json:"mask_width"`
	MaskHeight   int     `json:"mask_height"`
}

// encodeGenerate packs [HeaderLen][Header JSON][Mask 0]...[Mask n-1]
func encodeGenerate(req types.GenerateRequest) ([]byte, error) {
	hdr := generateHeader{
		VideoPath:    req.VideoPath,
		Prompt:       req.Prompt,
		FrameIndices: req.FrameIndices,
		AnnIndices:   req.AnnIndices,
		FrameNums:    req.FrameNums,
		MaskCount:    len(req.Masks),
	}
	if len(req.Masks) > 0 {
		hdr.MaskWidth, hdr.MaskHeight = req.Masks[0].Width, req.Masks[0].Height
	}
	for i, m := range req.Masks {
		if m.Width != hdr.MaskWidth || m.Height != hdr.MaskHeight {
			return nil, fmt.Errorf("mask %d is %dx%d, expected %dx%d", i, m.Width, m.Height, hdr.MaskWidth, hdr.MaskHeight)
		}
	}

	js, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(len(js)))
	buf.Write(js)
	for _, m := range req.Masks {
		buf.Write(m.Packed())
	}
	return buf.Bytes(), nil
}
