package parsers

import (
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/json"

	"github.com/oarkflow/hl7/pkg/schema"
)

func TestParseDocument(t *testing.T) {
	parser := NewHL7Parser()
	doc, err := parser.ParseDocument(sampleHL7Message)
	if err != nil {
		t.Fatalf("ParseDocument returned error: %v", err)
	}
	if doc.MessageType != "ADT^A01" || doc.ControlID != "MSG0001" || doc.Version != "2.5" {
		t.Fatalf("unexpected document header %+v", doc)
	}
	if !doc.Timestamp.Equal(time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", doc.Timestamp)
	}
	if len(doc.JSON) == 0 {
		t.Fatalf("expected JSON output")
	}
	var decoded map[string]any
	if err := json.Unmarshal(doc.JSON, &decoded); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	for _, id := range []string{"MSH", "PID", "PV1", "ZPI"} {
		if _, ok := decoded[id]; !ok {
			t.Fatalf("JSON output missing %s: %s", id, doc.JSON)
		}
	}
	if !strings.Contains(string(doc.JSON), `"DateTimeOfBirth": "19800101"`) {
		t.Fatalf("timestamps should render in HL7 form: %s", doc.JSON)
	}

	xmlText := string(doc.XML)
	for _, want := range []string{`<HL7Message version="2.5">`, "<MSH>", "<PID>", "<Surname>DOE</Surname>", "<ZPI>", "<Field2>site specific</Field2>"} {
		if !strings.Contains(xmlText, want) {
			t.Fatalf("XML output missing %q:\n%s", want, xmlText)
		}
	}
	if strings.Index(xmlText, "<MSH>") > strings.Index(xmlText, "<PID>") {
		t.Fatalf("XML should keep segment order")
	}
}

func TestToJSONAndXML(t *testing.T) {
	parser := NewHL7Parser()
	jsonBytes, err := parser.ToJSON(sampleORU)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(jsonBytes), `"OBX"`) {
		t.Fatalf("JSON output missing OBX: %s", jsonBytes)
	}
	xmlBytes, err := parser.ToXML(sampleORU)
	if err != nil {
		t.Fatalf("ToXML: %v", err)
	}
	if strings.Count(string(xmlBytes), "<OBX>") != 2 {
		t.Fatalf("expected two OBX elements:\n%s", xmlBytes)
	}
	if _, err := parser.ToJSON("not hl7"); err == nil {
		t.Fatalf("invalid input should fail")
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"SetID":        uint64(3),
		"Reading":      "5.40",
		"Born":         DateTime{Time: time.Date(1980, 1, 2, 0, 0, 0, 0, time.UTC), Precision: schema.PrecisionDay},
		"Updated":      "20240102",
		"Free":         "2024-01-02 10:00:00",
		"AccidentCode": Record{"Identifier": "123", "Text": "ABC"},
		"Names":        []any{Record{"GivenName": "JANE"}, nil, Record{"GivenName": "J"}},
	}
	if got := rec.String("SetID"); got != "3" {
		t.Fatalf("String(SetID) = %q", got)
	}
	if got := rec.String("AccidentCode"); got != "123" {
		t.Fatalf("composites should render their identifier, got %q", got)
	}
	if got := rec.String("Born"); got != "19800102" {
		t.Fatalf("String(Born) = %q", got)
	}
	if got := rec.String("Missing"); got != "" {
		t.Fatalf("String(Missing) = %q", got)
	}
	if v, ok := rec.Float("Reading"); !ok || v != 5.4 {
		t.Fatalf("Float(Reading) = %v, %v", v, ok)
	}
	if v, ok := rec.Float("SetID"); !ok || v != 3 {
		t.Fatalf("Float(SetID) = %v, %v", v, ok)
	}
	if _, ok := rec.Float("Missing"); ok {
		t.Fatalf("Float(Missing) should be absent")
	}
	if ts, ok := rec.Time("Born"); !ok || ts.Year() != 1980 {
		t.Fatalf("Time(Born) = %v, %v", ts, ok)
	}
	if ts, ok := rec.Time("Updated"); !ok || !ts.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Time(Updated) = %v, %v", ts, ok)
	}
	if ts, ok := rec.Time("Free"); !ok || ts.Day() != 2 {
		t.Fatalf("Time(Free) = %v, %v", ts, ok)
	}
	code, ok := rec.Composite("AccidentCode")
	if !ok || code.String("Text") != "ABC" {
		t.Fatalf("Composite(AccidentCode) = %#v", code)
	}
	first, ok := rec.Composite("Names")
	if !ok || first.String("GivenName") != "JANE" {
		t.Fatalf("Composite should return the first repetition, got %#v", first)
	}
	if names := rec.List("Names"); len(names) != 3 || names[1] != nil {
		t.Fatalf("List should keep empty repetitions, got %#v", names)
	}
	if single := rec.List("Reading"); len(single) != 1 {
		t.Fatalf("single values list as one entry, got %#v", single)
	}
	if v, ok := rec.Lookup("AccidentCode.Text"); !ok || v != "ABC" {
		t.Fatalf("Lookup(AccidentCode.Text) = %v, %v", v, ok)
	}
	if _, ok := rec.Lookup("AccidentCode.Nope"); ok {
		t.Fatalf("Lookup of a missing key should be absent")
	}
	plain := rec.Map()
	if plain["Born"] != "19800102" {
		t.Fatalf("Map should render timestamps as text, got %#v", plain["Born"])
	}
	if _, ok := plain["AccidentCode"].(map[string]any); !ok {
		t.Fatalf("Map should flatten records, got %T", plain["AccidentCode"])
	}
}
