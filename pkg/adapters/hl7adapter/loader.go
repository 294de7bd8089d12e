package hl7adapter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/oarkflow/json"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// Loader output formats.
const (
	FormatHL7  = "hl7"
	FormatMLLP = "mllp"
	FormatJSON = "json"
)

// WriterLoader writes records to an io.Writer. The hl7 and mllp formats write the value
// under field (raw_message by default); json writes the whole record as one line.
type WriterLoader struct {
	mu     sync.Mutex
	writer io.Writer
	format string
	field  string
}

// NewWriterLoader builds a loader for w. An empty field means RawMessageKey.
func NewWriterLoader(w io.Writer, format, field string) *WriterLoader {
	if field == "" {
		field = RawMessageKey
	}
	return &WriterLoader{
		writer: w,
		format: strings.ToLower(format),
		field:  field,
	}
}

// Setup checks the format is known.
func (wl *WriterLoader) Setup(_ context.Context) error {
	if wl.writer == nil {
		return fmt.Errorf("hl7 loader: writer is nil")
	}
	switch wl.format {
	case FormatHL7, FormatMLLP, FormatJSON:
		return nil
	default:
		return fmt.Errorf("hl7 loader: unsupported format %q", wl.format)
	}
}

// StoreBatch writes records in order, stopping at the first failure.
func (wl *WriterLoader) StoreBatch(ctx context.Context, batch []contracts.Record) error {
	for _, rec := range batch {
		if err := wl.StoreSingle(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// StoreSingle writes one record.
func (wl *WriterLoader) StoreSingle(ctx context.Context, rec contracts.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wl.mu.Lock()
	defer wl.mu.Unlock()
	switch wl.format {
	case FormatJSON:
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = wl.writer.Write(append(data, '\n'))
		return err
	case FormatMLLP:
		message, err := wl.message(rec)
		if err != nil {
			return err
		}
		return WriteFrame(wl.writer, message)
	default:
		message, err := wl.message(rec)
		if err != nil {
			return err
		}
		// blank line between messages so FileSource can read the output back
		_, err = io.WriteString(wl.writer, message+"\r\n\r\n")
		return err
	}
}

func (wl *WriterLoader) message(rec contracts.Record) (string, error) {
	switch v := rec[wl.field].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("hl7 loader: record has no %s field", wl.field)
	default:
		return "", fmt.Errorf("hl7 loader: field %s is %T, not a message", wl.field, v)
	}
}

// Close closes the writer when it is closable.
func (wl *WriterLoader) Close() error {
	if closer, ok := wl.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// FileLoader appends messages to a file. Writes hold an advisory lock on path+".lock" so
// several processes can share one output file.
type FileLoader struct {
	path   string
	format string
	field  string
	lock   *flock.Flock
	file   *os.File
	writer *WriterLoader
}

// NewFileLoader builds a loader appending to path in the given format.
func NewFileLoader(path, format, field string) *FileLoader {
	return &FileLoader{
		path:   path,
		format: format,
		field:  field,
		lock:   flock.New(path + ".lock"),
	}
}

// Setup opens the output file for appending.
func (fl *FileLoader) Setup(ctx context.Context) error {
	if fl.path == "" {
		return fmt.Errorf("hl7 file loader: path is empty")
	}
	file, err := os.OpenFile(fl.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	writer := NewWriterLoader(file, fl.format, fl.field)
	if err := writer.Setup(ctx); err != nil {
		_ = file.Close()
		return err
	}
	fl.file = file
	fl.writer = writer
	return nil
}

// StoreBatch appends the batch under the file lock.
func (fl *FileLoader) StoreBatch(ctx context.Context, batch []contracts.Record) error {
	if fl.writer == nil {
		return fmt.Errorf("hl7 file loader: Setup was not called")
	}
	if err := fl.lock.Lock(); err != nil {
		return err
	}
	defer func() {
		_ = fl.lock.Unlock()
	}()
	if err := fl.writer.StoreBatch(ctx, batch); err != nil {
		return err
	}
	return fl.file.Sync()
}

// StoreSingle appends one record.
func (fl *FileLoader) StoreSingle(ctx context.Context, rec contracts.Record) error {
	return fl.StoreBatch(ctx, []contracts.Record{rec})
}

// Close closes the output file.
func (fl *FileLoader) Close() error {
	if fl.file == nil {
		return nil
	}
	err := fl.file.Close()
	fl.file = nil
	fl.writer = nil
	return err
}

var (
	_ contracts.Loader = (*WriterLoader)(nil)
	_ contracts.Loader = (*FileLoader)(nil)
	_ contracts.Source = (*FileSource)(nil)
	_ contracts.Source = (*MLLPSource)(nil)
)
