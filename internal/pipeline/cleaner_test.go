package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses newlines and runs", "Hello\n\nWorld   test", "Hello World test"},
		{"trims", "  \t padded \r\n", "padded"},
		{"unicode whitespace", "a\u00a0\u2003b", "a b"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
		{"invalid utf8 replaced", "caf\xff", "caf\uFFFD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clean(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "  ")
			assert.Equal(t, strings.TrimSpace(got), got)
		})
	}
}

func TestCleanValue_NonString(t *testing.T) {
	assert.Equal(t, "", CleanValue(42))
	assert.Equal(t, "", CleanValue(nil))
	assert.Equal(t, "a b", CleanValue(" a \n b "))
}
