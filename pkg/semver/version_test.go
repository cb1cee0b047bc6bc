package semver

import (
	"testing"

	"github.com/cratewatch/cratewatch/pkg/errors"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected Version
	}{
		{"1.2.3", Version{Major: 1, Minor: 2, Patch: 3}},
		{"0.0.0", Version{}},
		{"10.20.30", Version{Major: 10, Minor: 20, Patch: 30}},
		{"1.2.3-alpha", Version{Major: 1, Minor: 2, Patch: 3, Pre: []string{"alpha"}}},
		{"1.2.3-alpha.1", Version{Major: 1, Minor: 2, Patch: 3, Pre: []string{"alpha", "1"}}},
		{"1.2.3+build5", Version{Major: 1, Minor: 2, Patch: 3, Build: "build5"}},
		{"1.2.3-rc.1+git.abc", Version{Major: 1, Minor: 2, Patch: 3, Pre: []string{"rc", "1"}, Build: "git.abc"}},
		{"  1.0.5  ", Version{Major: 1, Minor: 0, Patch: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if err != nil {
				t.Fatalf("ParseVersion(%q) error: %v", tt.input, err)
			}
			if got.Compare(tt.expected) != 0 || got.Build != tt.expected.Build {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseVersion_Errors(t *testing.T) {
	inputs := []string{
		"",
		"1",
		"1.2",
		"1.2.3.4",
		"a.b.c",
		"1.2.x",
		"1.2.3-",
		"1.2.3+",
		"1.2.3-alpha..1",
		"-1.2.3",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseVersion(input)
			if err == nil {
				t.Fatalf("ParseVersion(%q) should fail", input)
			}
			if !errors.IsConstraintSyntax(err) {
				t.Errorf("ParseVersion(%q) error kind = %v, want constraint_syntax", input, errors.KindOf(err))
			}
		})
	}
}

func TestVersion_Compare(t *testing.T) {
	// Each version orders strictly before the next.
	ordered := []string{
		"0.0.1",
		"0.1.0",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}

	for i := 0; i < len(ordered)-1; i++ {
		lo := MustParseVersion(ordered[i])
		hi := MustParseVersion(ordered[i+1])
		if lo.Compare(hi) >= 0 {
			t.Errorf("%s should order before %s", ordered[i], ordered[i+1])
		}
		if hi.Compare(lo) <= 0 {
			t.Errorf("%s should order after %s", ordered[i+1], ordered[i])
		}
	}
}

func TestVersion_Compare_BuildIgnored(t *testing.T) {
	a := MustParseVersion("1.2.3+build1")
	b := MustParseVersion("1.2.3+build2")
	if a.Compare(b) != 0 {
		t.Error("build metadata must not affect precedence")
	}
}

func TestVersion_String_Roundtrip(t *testing.T) {
	inputs := []string{"1.2.3", "0.1.0-alpha.2", "2.0.0-rc.1+sha.5114f85"}
	for _, input := range inputs {
		if got := MustParseVersion(input).String(); got != input {
			t.Errorf("String() = %q, want %q", got, input)
		}
	}
}

func TestVersion_CoreEquals(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"1.2.3", "1.2.3-alpha", true},
		{"1.2.3", "1.2.3+build", true},
		{"1.2.3", "1.2.4", false},
	}

	for _, tt := range tests {
		a, b := MustParseVersion(tt.a), MustParseVersion(tt.b)
		if got := a.CoreEquals(b); got != tt.expected {
			t.Errorf("CoreEquals(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}
