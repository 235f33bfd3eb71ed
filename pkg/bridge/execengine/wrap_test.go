package execengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapFragment(t *testing.T) {
	wrapped := wrapFragment("return 1 + 1")

	assert.True(t, strings.HasPrefix(wrapped, "func __bridgeEval() interface{} {\n"))
	assert.Contains(t, wrapped, "return 1 + 1\n")
	assert.True(t, strings.HasSuffix(wrapped, "return nil\n}"))
}

func TestFragmentLines(t *testing.T) {
	assert.Equal(t, 1, fragmentLines("return 1"))
	assert.Equal(t, 1, fragmentLines("return 1\n"))
	assert.Equal(t, 2, fragmentLines("x := 1\nreturn x"))
	assert.Equal(t, 1, fragmentLines(""))
}

func TestDiagnostic_ShiftsWrapperOffset(t *testing.T) {
	got := diagnostic("2:9: undefined: foo", wrapperHeaderLines, 1)
	assert.Equal(t, "Line 1: undefined: foo", got)
}

func TestDiagnostic_FloorsAtLineOne(t *testing.T) {
	got := diagnostic("1:1: expected statement", 5, 3)
	assert.Equal(t, "Line 1: expected statement", got)
}

func TestDiagnostic_ClampsToFragmentEnd(t *testing.T) {
	// A dangling expression is reported on the wrapper's trailing return,
	// one past a one-line fragment.
	got := diagnostic("3:1: expected operand, found 'return'", wrapperHeaderLines, 1)
	assert.Equal(t, "Line 1: expected operand, found 'return'", got)
}

func TestDiagnostic_FilePrefix(t *testing.T) {
	got := diagnostic("./main.go:9:2: undefined: foo", 8, 1)
	assert.Equal(t, "Line 1: undefined: foo", got)
}

func TestDiagnostic_NoPositionPassesThrough(t *testing.T) {
	got := diagnostic("something went wrong", 1, 1)
	assert.Equal(t, "something went wrong", got)
}

func TestDiagnostics_DropsNoise(t *testing.T) {
	raw := "# command-line-arguments\n./main.go:9:2: undefined: foo\n./main.go:10:5: missing ','\n"

	got := diagnostics(raw, 8, 2)

	assert.Equal(t, []string{
		"Line 1: undefined: foo",
		"Line 2: missing ','",
	}, got)
}
