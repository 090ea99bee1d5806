package utils

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	_ "image/jpeg"

	"github.com/andresmejia3/focusedad/internal/types"
)

const megabyte = 1024 * 1024

// Video is a scoped handle on one input video. It is acquired when a pipeline
// run starts and must be released with Close on every exit path.
type Video struct {
	Path string
	Info VideoInfo

	file      *os.File
	closeOnce sync.Once
	closeErr  error
	released  bool
}

// OpenVideo opens and probes the video at path.
// Errors wrap types.ErrResourceUnavailable.
func OpenVideo(ctx context.Context, path string) (*Video, error) {
	v, err := openVideoFile(path)
	if err != nil {
		return nil, err
	}

	info, err := ProbeVideo(ctx, path)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("%w: probe %s: %v", types.ErrResourceUnavailable, path, err)
	}
	v.Info = info
	return v, nil
}

func openVideoFile(path string) (*Video, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResourceUnavailable, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory, expected a video file", types.ErrResourceUnavailable, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrResourceUnavailable, err)
	}
	return &Video{Path: path, file: f}, nil
}

// Close releases the handle. Calling it more than once is a no-op.
func (v *Video) Close() error {
	v.closeOnce.Do(func() {
		v.closeErr = v.file.Close()
		v.released = true
	})
	return v.closeErr
}

// StreamResolution is the frame size ffprobe reported, if it reported one.
func (v *Video) StreamResolution() (types.Resolution, bool) {
	if v.Info.Width <= 0 || v.Info.Height <= 0 {
		return types.Resolution{}, false
	}
	return types.Resolution{Height: v.Info.Height, Width: v.Info.Width}, true
}

// ExtractFrame decodes frame frameID, writes it as PNG to outPath and returns its resolution.
func (v *Video) ExtractFrame(ctx context.Context, frameID int, outPath string) (types.Resolution, error) {
	if v.released {
		return types.Resolution{}, fmt.Errorf("%w: video %s already released", types.ErrResourceUnavailable, v.Path)
	}
	if v.Info.FrameCount > 0 && frameID >= v.Info.FrameCount {
		return types.Resolution{}, fmt.Errorf("%w: requested frame %d exceeds total frames %d",
			types.ErrResourceUnavailable, frameID, v.Info.FrameCount)
	}

	ffmpeg := NewFFmpegFrameCmd(ctx, v.Path, frameID)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf
	out, err := ffmpeg.Output()
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: ffmpeg: %v: %s", types.ErrResourceUnavailable, err, stderrBuf.String())
	}

	frame, err := firstJpeg(out)
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: frame %d: %v", types.ErrResourceUnavailable, frameID, err)
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: decode frame %d: %v", types.ErrResourceUnavailable, frameID, err)
	}

	if err := writePNG(outPath, img); err != nil {
		return types.Resolution{}, err
	}

	b := img.Bounds()
	return types.Resolution{Height: b.Dy(), Width: b.Dx()}, nil
}

// firstJpeg pulls the first complete JPEG out of an MJPEG stream.
func firstJpeg(stream []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no frame in decoder output")
	}
	return scanner.Bytes(), nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	return f.Close()
}

// ImageResolution reads the dimensions of an encoded image on disk without decoding pixels.
func ImageResolution(path string) (types.Resolution, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: %v", types.ErrResourceUnavailable, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: decode %s: %v", types.ErrResourceUnavailable, path, err)
	}
	return types.Resolution{Height: cfg.Height, Width: cfg.Width}, nil
}
