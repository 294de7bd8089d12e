package parsers

import (
	"errors"
	"testing"
)

func TestDefaultSeparators(t *testing.T) {
	seps := DefaultSeparators()
	if seps.String() != "|^~\\&" {
		t.Fatalf("unexpected defaults %q", seps.String())
	}
	if err := seps.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	explicit := Separators{Field: '#', Repetition: '~', Component: '^', Subcomponent: '&', Escape: '\\'}
	if got := ResolveSeparators(&explicit); got != explicit {
		t.Fatalf("explicit separators should win, got %+v", got)
	}
	if got := ResolveSeparators(nil); got != seps {
		t.Fatalf("nil should resolve to the defaults, got %+v", got)
	}
}

func TestSeparatorsFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{name: "standard", line: "MSH|^~\\&|APP|FAC", want: "|^~\\&"},
		{name: "alternate", line: "MSH#*!$%#APP", want: "#*!$%"},
		{name: "batch header", line: "BHS|^~\\&|APP", want: "|^~\\&"},
		{name: "file header", line: "FHS|^~\\&", want: "|^~\\&"},
		{name: "legacy two characters", line: "MSH|^~|APP", want: "|^~\\&"},
		{name: "legacy three characters", line: "MSH|^~!|APP", want: "|^~!&"},
		{name: "duplicate characters", line: "MSH|^^\\&|APP", wantErr: true},
		{name: "single encoding character", line: "MSH|^|APP", wantErr: true},
		{name: "not a header", line: "PID|1", wantErr: true},
		{name: "too short", line: "MSH", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seps, err := SeparatorsFromHeader(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", seps)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seps.String() != tc.want {
				t.Fatalf("got %q, want %q", seps.String(), tc.want)
			}
		})
	}
}

func TestSeparatorsValidate(t *testing.T) {
	bad := DefaultSeparators()
	bad.Escape = bad.Component
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSeparators) {
		t.Fatalf("expected ErrInvalidSeparators, got %v", err)
	}
	bad = DefaultSeparators()
	bad.Subcomponent = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSeparators) {
		t.Fatalf("expected ErrInvalidSeparators for an empty separator, got %v", err)
	}
	if _, err := SeparatorsFromTokens("||", "^~\\&"); !errors.Is(err, ErrInvalidSeparators) {
		t.Fatalf("multi character field separator should fail, got %v", err)
	}
}

func TestConfigureDefaultsOnce(t *testing.T) {
	invalid := Separators{Field: '|'}
	if err := ConfigureDefaults(invalid); !errors.Is(err, ErrInvalidSeparators) {
		t.Fatalf("invalid defaults should be rejected, got %v", err)
	}
	// configure with the standard set so other tests keep their expectations
	if err := ConfigureDefaults(standardSeparators); err != nil {
		t.Fatalf("first configuration should succeed: %v", err)
	}
	if err := ConfigureDefaults(standardSeparators); !errors.Is(err, ErrDefaultsConfigured) {
		t.Fatalf("second configuration should fail, got %v", err)
	}
	if DefaultSeparators() != standardSeparators {
		t.Fatalf("defaults changed unexpectedly")
	}
}
