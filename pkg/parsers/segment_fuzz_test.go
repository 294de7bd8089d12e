//go:build fuzz
// +build fuzz

package parsers

import (
	"testing"

	"github.com/oarkflow/hl7/pkg/schema"
)

// FuzzDecodeSegment checks that decoding never panics and that encoding a decoded
// segment is stable: a second decode/encode pass yields the same text.
func FuzzDecodeSegment(f *testing.F) {
	registry, err := schema.Default()
	if err != nil {
		f.Fatalf("load tables: %v", err)
	}
	s, err := registry.Lookup("2.5")
	if err != nil {
		f.Fatalf("lookup 2.5: %v", err)
	}
	codec := NewCodec(s, CodecOptions{})
	seps := DefaultSeparators()

	f.Add("ACC|20230101|123^ABC")
	f.Add("PID|1||123456^^^HOSP&1.2&ISO^MR~X||DOE^JANE||19800101|F")
	f.Add("MSH|^~\\&|APP|FAC|||20220301120000.1234-0500||ADT^A01|1|P|2.5")
	f.Add("NTE|1||a~~b")
	f.Add("OBX|1|NM|GLU^^L||-0.50|||||||20230101|\"\"")

	f.Fuzz(func(t *testing.T, line string) {
		if len(line) > 4096 || len(line) < 3 {
			t.Skip("input out of range")
		}
		d, err := s.Segment(line[:3])
		if err != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("codec panicked for %q: %v", line, r)
			}
		}()
		rec, err := codec.DecodeSegment(line, d, seps)
		if err != nil {
			return
		}
		first := codec.EncodeSegment(rec, d, seps)
		again, err := codec.DecodeSegment(first, d, seps)
		if err != nil {
			t.Fatalf("re-decode of %q failed: %v", first, err)
		}
		if second := codec.EncodeSegment(again, d, seps); second != first {
			t.Errorf("encoding not stable:\n first %q\nsecond %q", first, second)
		}
	})
}
