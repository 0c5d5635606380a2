package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEntityName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"proper name", "Blake McCarn", true},
		{"organization", "Acme Insurance LLC", true},
		{"single capitalized word", "Microsoft", true},
		{"role word", "applicant", false},
		{"role word capitalized", "Patient", false},
		{"placeholder", "n/a", false},
		{"unknown placeholder", "Unknown", false},
		{"too short", "Jo", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"lowercase single word", "invoice", false},
		{"multi word lowercase role", "not specified", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidEntityName(tt.input))
		})
	}
}
