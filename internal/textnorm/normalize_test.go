package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    " \t\n  ",
			expected: "",
		},
		{
			name:     "plain text unchanged",
			input:    "synthetic life ethics",
			expected: "synthetic life ethics",
		},
		{
			name:     "collapses whitespace runs",
			input:    "a  b\t\tc\n\nd",
			expected: "a b c d",
		},
		{
			name:     "decodes escaped newline and tab",
			input:    `first\nsecond\tthird`,
			expected: "first second third",
		},
		{
			name:     "decodes unicode escape",
			input:    `café culture`,
			expected: "café culture",
		},
		{
			name:     "strips special characters",
			input:    "benefits (and risks) of #CRISPR @scale",
			expected: "benefits and risks of CRISPR scale",
		},
		{
			name:     "keeps sentence punctuation",
			input:    "What next? Costs, risks - and benefits!",
			expected: "What next? Costs, risks - and benefits!",
		},
		{
			name:     "strips markdown emphasis",
			input:    "**Key Findings**",
			expected: "Key Findings",
		},
		{
			name:     "unknown escape loses only the backslash",
			input:    `plan \q route`,
			expected: "plan q route",
		},
		{
			name:     "malformed unicode escape keeps text",
			input:    `broken \u00 escape`,
			expected: "broken u00 escape",
		},
		{
			name:     "trims the result",
			input:    "  padded value  ",
			expected: "padded value",
		},
		{
			name:     "stripping cannot leave double spaces",
			input:    "a @ b",
			expected: "a b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"a  b\t\tc",
		`first\nsecond`,
		"benefits (and risks) of #CRISPR",
		"a @ b @@ c",
		`café   "quoted"`,
		"What are the implications of synthetic life?",
	}
	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}
