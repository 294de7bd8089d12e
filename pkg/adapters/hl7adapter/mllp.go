package hl7adapter

import (
	"bufio"
	"bytes"
	"context"
	sterrors "errors"
	"io"
	"sync"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// MLLP block framing.
const (
	StartBlock     byte = 0x0b
	EndBlock       byte = 0x1c
	CarriageReturn byte = 0x0d
)

const maxFrameSize = 4 * 1024 * 1024

// ErrUnterminatedFrame reports input that ended inside an MLLP block.
var ErrUnterminatedFrame = sterrors.New("mllp: stream ended inside a frame")

// ScanFrames is a bufio.SplitFunc yielding the payload of each 0x0B ... 0x1C 0x0D block.
// Bytes between frames are discarded.
func ScanFrames(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.IndexByte(data, StartBlock)
	if start < 0 {
		return len(data), nil, nil
	}
	end := bytes.IndexByte(data[start+1:], EndBlock)
	if end < 0 {
		if atEOF {
			return 0, nil, ErrUnterminatedFrame
		}
		return start, nil, nil
	}
	end += start + 1
	advance := end + 1
	if advance < len(data) {
		if data[advance] == CarriageReturn {
			advance++
		}
	} else if !atEOF {
		// wait for the trailing CR
		return start, nil, nil
	}
	return advance, data[start+1 : end], nil
}

// WriteFrame writes message wrapped in MLLP framing.
func WriteFrame(w io.Writer, message string) error {
	buf := make([]byte, 0, len(message)+3)
	buf = append(buf, StartBlock)
	buf = append(buf, message...)
	buf = append(buf, EndBlock, CarriageReturn)
	_, err := w.Write(buf)
	return err
}

// MLLPSource streams framed HL7 messages from a reader such as a TCP connection.
type MLLPSource struct {
	r    io.Reader
	name string

	mu  sync.Mutex
	err error
}

// NewMLLPSource reads frames from r. name is reported as the source path of each record.
func NewMLLPSource(r io.Reader, name string) *MLLPSource {
	return &MLLPSource{r: r, name: name}
}

// Setup implements contracts.Source.
func (ms *MLLPSource) Setup(_ context.Context) error {
	if ms.r == nil {
		return errors.New("mllp source: reader is nil")
	}
	return nil
}

// Extract emits one record per frame until the reader is exhausted or ctx is done.
func (ms *MLLPSource) Extract(ctx context.Context, opts ...contracts.Option) (<-chan contracts.Record, error) {
	if ms.r == nil {
		return nil, errors.New("mllp source: reader is nil")
	}
	limit := contracts.ApplyOptions(opts...).Limit
	out := make(chan contracts.Record)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(ms.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
		scanner.Split(ScanFrames)
		sent := 0
		for scanner.Scan() {
			frame := scanner.Text()
			if len(frame) == 0 {
				continue
			}
			sent++
			select {
			case <-ctx.Done():
				return
			case out <- contracts.Record{
				RawMessageKey: frame,
				SourcePathKey: ms.name,
				SequenceKey:   sent,
			}:
			}
			if limit > 0 && sent >= limit {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("mllp source scan error: %v", err)
			ms.mu.Lock()
			ms.err = err
			ms.mu.Unlock()
		}
	}()
	return out, nil
}

// Err returns the error that ended the stream, such as ErrUnterminatedFrame.
func (ms *MLLPSource) Err() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.err
}

// Close closes the reader when it is closable.
func (ms *MLLPSource) Close() error {
	if c, ok := ms.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
