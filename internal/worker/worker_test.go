package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// frame prefixes payload with its big-endian length, as the worker does on FD 3.
func frame(payload []byte) *MockCloser {
	out := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(out, binary.BigEndian, uint32(len(payload)))
	out.Write(payload)
	return out
}

func landmarkPayload(points [][2]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                         // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(points))) // NumPoints
	for _, p := range points {
		binary.Write(payload, binary.BigEndian, p)
	}
	return payload.Bytes()
}

func errorPayload(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return payload.Bytes()
}

func TestProcessImage(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := frame(landmarkPayload([][2]float32{{0.25, 0.5}, {0.75, 0.125}}))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	input := []byte{0x89, 0x50, 0x4E, 0x47} // Fake PNG bytes
	res, err := w.ProcessImage(context.Background(), input)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}

	sent := stdinMock.Bytes()
	if len(sent) != 4+len(input) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(input), len(sent))
	}
	if binary.BigEndian.Uint32(sent[:4]) != uint32(len(input)) {
		t.Errorf("Length header = %d, want %d", binary.BigEndian.Uint32(sent[:4]), len(input))
	}

	if !res.Found {
		t.Fatal("Expected a face")
	}
	if len(res.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(res.Points))
	}
	if math.Abs(res.Points[1].X-0.75) > 1e-6 || math.Abs(res.Points[1].Y-0.125) > 1e-6 {
		t.Errorf("Unexpected second point %+v", res.Points[1])
	}
}

func TestProcessImage_NoFace(t *testing.T) {
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: frame(landmarkPayload(nil)),
	}

	res, err := w.ProcessImage(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if res.Found || len(res.Points) != 0 {
		t.Errorf("Expected no face, got %+v", res)
	}
}

func TestProcessImage_Error(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: frame(errorPayload(errMsg)),
	}

	_, err := w.ProcessImage(context.Background(), []byte("img"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	if !errors.Is(err, ErrRemote) {
		t.Error("Expected ErrRemote classification")
	}
	if !w.Alive() {
		t.Error("A reported error must not mark the worker dead")
	}
}

func TestProcessImage_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"Empty payload", nil},
		{"Unknown status", []byte{7}},
		{"Missing count", []byte{0, 0, 0}},
		{"Truncated points", append(landmarkPayload([][2]float32{{0.1, 0.2}})[:5], 0, 0)},
		{"Absurd count", []byte{0, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"NaN coordinate", landmarkPayload([][2]float32{{float32(math.NaN()), 0.2}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &PythonWorker{
				Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
				DataPipe: frame(tt.payload),
			}
			if _, err := w.ProcessImage(context.Background(), []byte("img")); err == nil {
				t.Error("Expected error for malformed payload")
			}
		})
	}
}

func TestProcessImage_CrashedWorker(t *testing.T) {
	// Nothing on the data pipe: the process died before replying.
	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.ProcessImage(context.Background(), []byte("img")); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF from a dead worker, got %v", err)
	}
	if w.Alive() {
		t.Error("Expected worker to be marked dead")
	}
}

// blockingPipe never returns from Read until closed.
type blockingPipe struct {
	closed chan struct{}
}

func (b *blockingPipe) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.EOF
}

func (b *blockingPipe) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestProcessImage_Timeout(t *testing.T) {
	pipe := &blockingPipe{closed: make(chan struct{})}
	defer pipe.Close()

	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: pipe,
		timeout:  20 * time.Millisecond,
	}

	start := time.Now()
	_, err := w.ProcessImage(context.Background(), []byte("img"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Timeout was not honoured")
	}
	if w.Alive() {
		t.Error("Expected worker to be marked dead after a timeout")
	}
}

// countingCloser records how often it was closed.
type countingCloser struct {
	*bytes.Buffer
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestClose_Idempotent(t *testing.T) {
	stdin := &countingCloser{Buffer: new(bytes.Buffer)}
	data := &countingCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{Stdin: stdin, DataPipe: data}

	// A dead worker is drained by its engine and closed again on exit.
	w.Close()
	w.Close()

	if stdin.closes != 1 || data.closes != 1 {
		t.Errorf("Expected each pipe closed once, got stdin=%d data=%d", stdin.closes, data.closes)
	}
}
