package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractProjectFilesMatchesPathsUnderProjectRoot(t *testing.T) {
	text := "I edited /tmp/demo/main.go and /tmp/demo/internal/util.go to fix the bug."
	files := ExtractProjectFiles(text, "/tmp/demo")
	assert.Equal(t, []string{"/tmp/demo/main.go", "/tmp/demo/internal/util.go"}, files)
}

func TestExtractProjectFilesSkipsPathsOutsideProjectRoot(t *testing.T) {
	text := "See /etc/passwd for reference, and /tmp/demo/main.go for the fix."
	files := ExtractProjectFiles(text, "/tmp/demo")
	assert.Equal(t, []string{"/tmp/demo/main.go"}, files)
}

func TestExtractProjectFilesTrimsTrailingPunctuation(t *testing.T) {
	text := "Changed (/tmp/demo/main.go)."
	files := ExtractProjectFiles(text, "/tmp/demo")
	assert.Equal(t, []string{"/tmp/demo/main.go"}, files)
}

func TestStripFilePathsRemovesListedPathsAndBlankLines(t *testing.T) {
	text := "Summary line\n/tmp/demo/main.go\nAnother line"
	out := StripFilePaths(text, []string{"/tmp/demo/main.go"})
	assert.Equal(t, "Summary line\nAnother line", out)
}

func TestStripFilePathsNoopWhenNoPaths(t *testing.T) {
	assert.Equal(t, "unchanged", StripFilePaths("unchanged", nil))
}
