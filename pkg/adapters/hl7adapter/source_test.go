package hl7adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarkflow/hl7/pkg/contracts"
)

const batchFile = "FHS|^~\\&|LAB\r\n" +
	"BHS|^~\\&|LAB\r\n" +
	"MSH|^~\\&|LAB|HOSP|||20240101||ORU^R01|1|P|2.5\r\n" +
	"PID|1||A1\r\n" +
	"MSH|^~\\&|LAB|HOSP|||20240101||ORU^R01|2|P|2.5\n" +
	"OBX|1|NM|GLU||5.4\n" +
	"\n" +
	"MSH|^~\\&|LAB|HOSP|||20240101||ORU^R01|3|P|2.5\r" +
	"BTS|3\r\n" +
	"FTS|1\r\n"

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.hl7")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func collect(t *testing.T, src contracts.Source, opts ...contracts.Option) []contracts.Record {
	t.Helper()
	ctx := context.Background()
	if err := src.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ch, err := src.Extract(ctx, opts...)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var out []contracts.Record
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func TestFileSourceSplitsMessages(t *testing.T) {
	path := writeTemp(t, batchFile)
	recs := collect(t, NewFileSource(path, WithEnvelopeSkip(true)))
	if len(recs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %#v", len(recs), recs)
	}
	first := recs[0][RawMessageKey].(string)
	if first != "MSH|^~\\&|LAB|HOSP|||20240101||ORU^R01|1|P|2.5\rPID|1||A1" {
		t.Fatalf("unexpected first message %q", first)
	}
	if recs[1][RawMessageKey] != "MSH|^~\\&|LAB|HOSP|||20240101||ORU^R01|2|P|2.5\rOBX|1|NM|GLU||5.4" {
		t.Fatalf("unexpected second message %q", recs[1][RawMessageKey])
	}
	if recs[2][SourcePathKey] != path || recs[2][SequenceKey] != 3 {
		t.Fatalf("unexpected record metadata %#v", recs[2])
	}
}

func TestFileSourceKeepsEnvelope(t *testing.T) {
	path := writeTemp(t, batchFile)
	recs := collect(t, NewFileSource(path))
	if len(recs) != 4 {
		t.Fatalf("expected the header block plus 3 messages, got %d", len(recs))
	}
	if recs[0][RawMessageKey] != "FHS|^~\\&|LAB\rBHS|^~\\&|LAB" {
		t.Fatalf("envelope lines should be kept, got %q", recs[0][RawMessageKey])
	}
	if !strings.HasSuffix(recs[3][RawMessageKey].(string), "\rBTS|3\rFTS|1") {
		t.Fatalf("trailer lines should stay with the last message, got %q", recs[3][RawMessageKey])
	}
}

func TestFileSourceLimitAndErrors(t *testing.T) {
	path := writeTemp(t, batchFile)
	recs := collect(t, NewFileSource(path, WithEnvelopeSkip(true)), contracts.WithLimit(2))
	if len(recs) != 2 {
		t.Fatalf("limit should stop extraction, got %d", len(recs))
	}
	if err := NewFileSource("").Setup(context.Background()); err == nil {
		t.Fatalf("empty path should fail")
	}
	missing := NewFileSource(filepath.Join(t.TempDir(), "missing.hl7"))
	if err := missing.Setup(context.Background()); err == nil {
		t.Fatalf("missing file should fail")
	}
	if _, err := missing.Extract(context.Background()); err == nil {
		t.Fatalf("missing file should fail on extract")
	}
}

func TestScanFrames(t *testing.T) {
	stream := "noise\x0bMSH|1\rPID|1\x1c\r\x0bMSH|2\x1c\rtrailing"
	scanner := bufio.NewScanner(strings.NewReader(stream))
	scanner.Split(ScanFrames)
	var frames []string
	for scanner.Scan() {
		frames = append(frames, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(frames) != 2 || frames[0] != "MSH|1\rPID|1" || frames[1] != "MSH|2" {
		t.Fatalf("unexpected frames %q", frames)
	}

	scanner = bufio.NewScanner(strings.NewReader("\x0bMSH|1"))
	scanner.Split(ScanFrames)
	for scanner.Scan() {
	}
	if !errors.Is(scanner.Err(), ErrUnterminatedFrame) {
		t.Fatalf("expected ErrUnterminatedFrame, got %v", scanner.Err())
	}
}

func TestMLLPSource(t *testing.T) {
	var buf bytes.Buffer
	for _, msg := range []string{"MSH|^~\\&|A", "MSH|^~\\&|B", "MSH|^~\\&|C"} {
		if err := WriteFrame(&buf, msg); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{StartBlock, 'M'}) || !bytes.HasSuffix(buf.Bytes(), []byte{EndBlock, CarriageReturn}) {
		t.Fatalf("unexpected framing %q", buf.Bytes())
	}
	recs := collect(t, NewMLLPSource(bytes.NewReader(buf.Bytes()), "tcp"), contracts.WithLimit(2))
	if len(recs) != 2 || recs[1][RawMessageKey] != "MSH|^~\\&|B" || recs[0][SourcePathKey] != "tcp" {
		t.Fatalf("unexpected records %#v", recs)
	}
	if err := NewMLLPSource(nil, "x").Setup(context.Background()); err == nil {
		t.Fatalf("nil reader should fail")
	}

	buf.WriteString("\x0bMSH|^~\\&|D")
	src := NewMLLPSource(bytes.NewReader(buf.Bytes()), "tcp")
	if recs := collect(t, src); len(recs) != 3 {
		t.Fatalf("complete frames before the break should be emitted, got %d", len(recs))
	}
	if !errors.Is(src.Err(), ErrUnterminatedFrame) {
		t.Fatalf("expected ErrUnterminatedFrame, got %v", src.Err())
	}
}

func TestWriterLoader(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	loader := NewWriterLoader(&buf, "mllp", "")
	if err := loader.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := loader.StoreSingle(ctx, contracts.Record{RawMessageKey: "MSH|^~\\&|A"}); err != nil {
		t.Fatalf("StoreSingle: %v", err)
	}
	if buf.String() != "\x0bMSH|^~\\&|A\x1c\r" {
		t.Fatalf("unexpected mllp output %q", buf.String())
	}
	if err := loader.StoreSingle(ctx, contracts.Record{"other": 1}); err == nil {
		t.Fatalf("records without a message should fail")
	}

	buf.Reset()
	jsonLoader := NewWriterLoader(&buf, "JSON", "")
	if err := jsonLoader.StoreBatch(ctx, []contracts.Record{{"id": "1"}, {"id": "2"}}); err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 2 || !strings.Contains(buf.String(), `"id":"1"`) {
		t.Fatalf("unexpected json output %q", buf.String())
	}
	if err := NewWriterLoader(&buf, "csv", "").Setup(ctx); err == nil {
		t.Fatalf("unknown format should fail")
	}
}

func TestFileLoaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.hl7")
	loader := NewFileLoader(path, FormatHL7, "")
	if err := loader.StoreSingle(ctx, contracts.Record{RawMessageKey: "x"}); err == nil {
		t.Fatalf("store before Setup should fail")
	}
	if err := loader.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	batch := []contracts.Record{
		{RawMessageKey: "MSH|^~\\&|A|||||ADT^A01|1|P|2.5\rPID|1"},
		{RawMessageKey: "MSH|^~\\&|B|||||ADT^A01|2|P|2.5"},
	}
	if err := loader.StoreBatch(ctx, batch); err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}
	if err := loader.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := collect(t, NewFileSource(path))
	if len(recs) != 2 {
		t.Fatalf("expected 2 messages back, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec[RawMessageKey] != batch[i][RawMessageKey] {
			t.Fatalf("message %d: got %q, want %q", i, rec[RawMessageKey], batch[i][RawMessageKey])
		}
	}
}
