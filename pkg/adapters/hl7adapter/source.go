package hl7adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// Record keys set by the sources in this package.
const (
	RawMessageKey = "raw_message"
	SourcePathKey = "source_path"
	SequenceKey   = "sequence"
)

// batch envelope segments wrapping messages in HL7 batch files
var envelopeSegments = []string{"FHS", "BHS", "BTS", "FTS"}

// FileSourceOption customizes HL7 file source behaviour.
type FileSourceOption func(*FileSource)

// WithBlankLineSplit toggles whether blank lines delimit messages.
func WithBlankLineSplit(enabled bool) FileSourceOption {
	return func(fs *FileSource) {
		fs.splitOnBlankLine = enabled
	}
}

// WithEnvelopeSkip drops FHS/BHS/BTS/FTS lines so only the wrapped messages are emitted.
func WithEnvelopeSkip(enabled bool) FileSourceOption {
	return func(fs *FileSource) {
		fs.skipEnvelope = enabled
	}
}

// FileSource streams HL7 messages from a file or reader, emitting one record per message.
type FileSource struct {
	path             string
	reader           io.Reader
	splitOnBlankLine bool
	skipEnvelope     bool

	mu  sync.Mutex
	err error
}

// NewFileSource builds a FileSource with optional behaviour tweaks.
func NewFileSource(path string, opts ...FileSourceOption) *FileSource {
	fs := &FileSource{
		path:             path,
		splitOnBlankLine: true,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// NewReaderSource reads newline separated messages from r, such as stdin. name is
// reported as the source path of each record.
func NewReaderSource(r io.Reader, name string, opts ...FileSourceOption) *FileSource {
	fs := NewFileSource(name, opts...)
	fs.reader = r
	return fs
}

// Setup validates the source file exists.
func (fs *FileSource) Setup(_ context.Context) error {
	if fs.reader != nil {
		return nil
	}
	if fs.path == "" {
		return fmt.Errorf("hl7 file source: path is empty")
	}
	_, err := os.Stat(fs.path)
	return err
}

// Extract streams HL7 messages. Segments of one message are joined with CR whatever line
// ending the file uses.
func (fs *FileSource) Extract(ctx context.Context, opts ...contracts.Option) (<-chan contracts.Record, error) {
	var input io.ReadCloser
	if fs.reader != nil {
		input = io.NopCloser(fs.reader)
	} else {
		file, err := os.Open(fs.path)
		if err != nil {
			return nil, err
		}
		input = file
	}
	limit := contracts.ApplyOptions(opts...).Limit

	out := make(chan contracts.Record)
	go func() {
		defer close(out)
		defer input.Close()

		scanner := bufio.NewScanner(input)
		buf := make([]byte, 0, 128*1024)
		scanner.Buffer(buf, 4*1024*1024)
		scanner.Split(scanSegments)
		var builder strings.Builder
		sent := 0

		// flush reports false once the consumer is gone or the limit is reached
		flush := func() bool {
			if builder.Len() == 0 {
				return true
			}
			message := builder.String()
			builder.Reset()
			sent++
			select {
			case <-ctx.Done():
				return false
			case out <- contracts.Record{
				RawMessageKey: message,
				SourcePathKey: fs.path,
				SequenceKey:   sent,
			}:
			}
			return limit == 0 || sent < limit
		}

		for scanner.Scan() {
			line := strings.TrimLeft(scanner.Text(), "\x0b\x1c")
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				if fs.splitOnBlankLine && !flush() {
					return
				}
				continue
			}
			if fs.skipEnvelope && isEnvelope(trimmed) {
				if !flush() {
					return
				}
				continue
			}
			if strings.HasPrefix(line, "MSH") && builder.Len() > 0 {
				if !flush() {
					return
				}
			}
			if builder.Len() > 0 {
				builder.WriteString("\r")
			}
			builder.WriteString(line)
		}
		if !flush() {
			return
		}

		if err := scanner.Err(); err != nil {
			log.Printf("hl7 file source scan error: %v", err)
			fs.mu.Lock()
			fs.err = err
			fs.mu.Unlock()
		}
	}()

	return out, nil
}

// Err returns the read error that ended the stream, if any.
func (fs *FileSource) Err() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.err
}

// Close implements contracts.Source.
func (fs *FileSource) Close() error {
	return nil
}

func isEnvelope(line string) bool {
	for _, id := range envelopeSegments {
		if strings.HasPrefix(line, id) {
			return true
		}
	}
	return false
}

// scanSegments splits on CR, LF or CRLF.
func scanSegments(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			// a CR at the end of the buffer may be the first half of CRLF
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
