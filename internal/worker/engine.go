package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/segment"
	"github.com/andresmejia3/focusedad/internal/types"
	"github.com/andresmejia3/focusedad/internal/utils"
)

// Config locates the engine script and bounds each request.
type Config struct {
	Python  string
	Script  string
	Timeout time.Duration // per request; 0 disables
}

// Engine is the single model host. It provides face detection, video
// segmentation and grounded generation over one long-lived Python process.
// Requests are serialised; the process is started on first use and restarted
// after any transport failure.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	w       *PythonWorker
	lastCmd *utils.SafeCommand
	start   func() (*PythonWorker, error)
}

// NewEngine returns an engine that has not started its process yet.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	e := &Engine{cfg: cfg, logger: logger}
	e.start = func() (*PythonWorker, error) {
		return NewPythonWorker(cfg.Python, cfg.Script)
	}
	return e
}

// Command returns the most recent engine process, or nil if none was started.
// Its stderr buffer holds the engine logs.
func (e *Engine) Command() *utils.SafeCommand {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w != nil {
		return e.w.Cmd
	}
	return e.lastCmd
}

// Close stops the engine process if it is running.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	return nil
}

func (e *Engine) ensure() error {
	if e.w != nil {
		return nil
	}
	e.logger.Debug("starting engine", zap.String("python", e.cfg.Python), zap.String("script", e.cfg.Script))
	w, err := e.start()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInference, err)
	}
	e.w = w
	return nil
}

// reset drops the current process. The next request starts a fresh one.
func (e *Engine) reset() {
	if e.w == nil {
		return
	}
	if e.w.Cmd != nil {
		e.lastCmd = e.w.Cmd
	}
	e.w.Close()
	e.w = nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// transportErr tears the process down after a broken exchange.
func (e *Engine) transportErr(ctx context.Context, stage string, err error) error {
	fields := []zap.Field{zap.String("stage", stage), zap.Error(err)}
	if e.w != nil {
		if logs := e.w.Logs(); logs != "" {
			fields = append(fields, zap.String("engine_stderr", tail(logs, maxLogTail)))
		}
	}
	e.logger.Warn("engine exchange failed, restarting on next request", fields...)
	e.reset()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrInference, stage, ctxErr)
	}
	return fmt.Errorf("%w: %s: %v", types.ErrInference, stage, err)
}

// maxLogTail bounds how much engine stderr goes into one log line.
const maxLogTail = 2048

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// roundTrip sends one request and waits for a single OK or error response.
// Caller holds e.mu.
func (e *Engine) roundTrip(ctx context.Context, stage string, op byte, body []byte) ([]byte, error) {
	if err := e.ensure(); err != nil {
		return nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.w.send(op, body); err != nil {
		return nil, e.transportErr(ctx, stage, err)
	}
	status, payload, err := e.w.read(ctx)
	if err != nil {
		return nil, e.transportErr(ctx, stage, err)
	}

	switch status {
	case statusOK:
		return payload, nil
	case statusError:
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInference, stage, decodeError(payload))
	default:
		return nil, e.transportErr(ctx, stage, fmt.Errorf("unexpected status %d", status))
	}
}

// DetectFaces runs face detection and embedding on one encoded image.
func (e *Engine) DetectFaces(ctx context.Context, img []byte) ([]types.DetectedFace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.roundTrip(ctx, "detect", opDetect, img)
	if err != nil {
		return nil, err
	}
	faces, err := decodeFaces(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: detect: %v", types.ErrInference, err)
	}
	return faces, nil
}

// InitState creates a fresh segmentation state for videoPath.
func (e *Engine) InitState(ctx context.Context, videoPath string) (segment.StateID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.roundTrip(ctx, "seg-init", opSegInit, []byte(videoPath))
	if err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: seg-init: empty state id", types.ErrInference)
	}
	return segment.StateID(payload), nil
}

// AddBox registers objectID on frameIdx with a box prompt.
func (e *Engine) AddBox(ctx context.Context, state segment.StateID, frameIdx, objectID int, box types.Box) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.roundTrip(ctx, "seg-add-box", opSegAddBox, encodeAddBox(state, frameIdx, objectID, box))
	return err
}

// ReleaseState frees the engine-side segmentation state.
func (e *Engine) ReleaseState(ctx context.Context, state segment.StateID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.roundTrip(ctx, "seg-release", opSegRelease, []byte(state))
	return err
}

// Propagate streams forward propagation. fn is called once per frame in the
// order the engine produces them. If fn fails the rest of the stream is
// drained so the process stays usable, and fn's error is returned.
func (e *Engine) Propagate(ctx context.Context, state segment.StateID, fn func(segment.ScoreFrame) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensure(); err != nil {
		return err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	const stage = "seg-propagate"
	if err := e.w.send(opSegPropagate, []byte(state)); err != nil {
		return e.transportErr(ctx, stage, err)
	}

	var fnErr error
	for {
		status, payload, err := e.w.read(ctx)
		if err != nil {
			return e.transportErr(ctx, stage, err)
		}

		switch status {
		case statusItem:
			if fnErr != nil {
				continue
			}
			frame, err := decodeScoreFrame(payload)
			if err != nil {
				return e.transportErr(ctx, stage, err)
			}
			fnErr = fn(frame)
		case statusEndOfS:
			return fnErr
		case statusError:
			return errors.Join(fmt.Errorf("%w: %s: %v", types.ErrInference, stage, decodeError(payload)), fnErr)
		default:
			return e.transportErr(ctx, stage, fmt.Errorf("unexpected status %d", status))
		}
	}
}

// Generate runs the grounded description model and returns its text.
func (e *Engine) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	body, err := encodeGenerate(req)
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", types.ErrInference, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.roundTrip(ctx, "generate", opGenerate, body)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
