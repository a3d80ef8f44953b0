package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/geometry"
	"github.com/andresmejia3/glint/internal/types"
	"github.com/andresmejia3/glint/internal/utils" // Using the SafeCommand wrapper
)

// DefaultScript is the face mesh worker shipped with the repository.
const DefaultScript = "python/landmarks.py"

// maxPoints bounds the landmark count we are willing to allocate for.
const maxPoints = 4096

// ErrTimeout is returned when the worker does not answer within ReadTimeout.
var ErrTimeout = errors.New("landmark worker timed out")

// ErrRemote marks a failure reported by the worker for one image. The
// process stays usable afterwards.
var ErrRemote = errors.New("python worker error")

// Config configures a face mesh worker process.
type Config struct {
	Python string
	Script string
	// DetectionThreshold is forwarded as the minimum face detection confidence.
	DetectionThreshold float64
	// ReadTimeout bounds a single request. Zero disables the deadline.
	ReadTimeout time.Duration
}

// PythonWorker drives one long-lived face mesh process. It is not safe for
// concurrent use; the batch driver gives every engine its own worker.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
	dead     bool

	closeOnce sync.Once
}

// NewPythonWorker starts the face mesh process. The process is killed when
// ctx is cancelled.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = DefaultScript
	}

	py := utils.NewSafeCommandContext(ctx, python, "-u", script,
		"--min-detection-confidence", fmt.Sprintf("%.3f", cfg.DetectionThreshold))

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Landmarks encodes img as PNG, sends it to the worker and decodes the face
// mesh. It satisfies glint.LandmarkProvider.
func (w *PythonWorker) Landmarks(ctx context.Context, img gocv.Mat) ([]geometry.NormalizedPoint, bool, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	res, err := w.ProcessImage(ctx, buf.GetBytes())
	if err != nil {
		return nil, false, err
	}
	return res.Points, res.Found, nil
}

// ProcessImage sends encoded image bytes and waits for the landmark reply,
// honouring both ctx and the configured read timeout.
func (w *PythonWorker) ProcessImage(ctx context.Context, data []byte) (types.LandmarkResult, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(data)
		done <- reply{body, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			w.dead = true
			return types.LandmarkResult{}, r.err
		}
		return parseResponse(r.body)
	case <-ctx.Done():
		// The stream is now out of sync; the worker cannot be reused.
		w.dead = true
		w.kill()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.LandmarkResult{}, ErrTimeout
		}
		return types.LandmarkResult{}, ctx.Err()
	}
}

// Communicate performs one framed round trip: [Length][Data] out on stdin,
// [Length][Payload] back on FD 3.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import error crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// parseResponse decodes a payload:
//
//	[Status:0] [NumPoints uint32] [NumPoints × (x float32, y float32)]
//	[Status:1] [MsgLen uint32] [Msg]
//
// NumPoints == 0 means no face was found.
func parseResponse(payload []byte) (types.LandmarkResult, error) {
	r := bytes.NewReader(payload)

	status, err := r.ReadByte()
	if err != nil {
		return types.LandmarkResult{}, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case 0:
	case 1:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return types.LandmarkResult{}, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return types.LandmarkResult{}, fmt.Errorf("malformed worker error: %w", err)
		}
		return types.LandmarkResult{}, fmt.Errorf("%w: %s", ErrRemote, msg)
	default:
		return types.LandmarkResult{}, fmt.Errorf("unknown worker status %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return types.LandmarkResult{}, fmt.Errorf("malformed landmark count: %w", err)
	}
	if n == 0 {
		return types.LandmarkResult{Found: false}, nil
	}
	if n > maxPoints {
		return types.LandmarkResult{}, fmt.Errorf("landmark count %d exceeds limit %d", n, maxPoints)
	}

	raw := make([]float32, 2*n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return types.LandmarkResult{}, fmt.Errorf("truncated landmarks: %w", err)
	}

	points := make([]geometry.NormalizedPoint, n)
	for i := range points {
		x, y := float64(raw[2*i]), float64(raw[2*i+1])
		if math.IsNaN(x) || math.IsNaN(y) {
			return types.LandmarkResult{}, fmt.Errorf("landmark %d is NaN", i)
		}
		points[i] = geometry.NormalizedPoint{X: x, Y: y}
	}
	return types.LandmarkResult{Found: true, Points: points}, nil
}

// Alive reports whether the worker can still serve requests. A transport
// failure or timeout leaves the framed stream unusable.
func (w *PythonWorker) Alive() bool {
	return !w.dead
}

func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// Close shuts the pipes and waits for the process to exit. Later calls are
// no-ops.
func (w *PythonWorker) Close() {
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			w.Cmd.Wait()
		}
	})
}
