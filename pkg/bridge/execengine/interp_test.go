package execengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterp() *Interp {
	return NewInterp([]string{"testing", "net/http/httptest", "runtime/pprof"})
}

func TestInterp_SimpleExpression(t *testing.T) {
	s := newTestInterp()

	value, err := s.Run(context.Background(), "return 1 + 1")

	require.NoError(t, err)
	assert.Equal(t, 2, value)
}

func TestInterp_MissingReturnYieldsNil(t *testing.T) {
	s := newTestInterp()

	value, err := s.Run(context.Background(), "x := 41\n_ = x")

	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestInterp_MapResult(t *testing.T) {
	s := newTestInterp()

	value, err := s.Run(context.Background(), `return map[string]interface{}{"x": 1}`)

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1}, value)
}

func TestInterp_ReferenceSetAvailable(t *testing.T) {
	s := newTestInterp()

	value, err := s.Run(context.Background(), `return strings.ToUpper("editor")`)

	require.NoError(t, err)
	assert.Equal(t, "EDITOR", value)
}

func TestInterp_UnityTypesAvailable(t *testing.T) {
	s := newTestInterp()

	value, err := s.Run(context.Background(), `return unity.Vector3{X: 1, Y: 2, Z: 3}`)

	require.NoError(t, err)
	assert.NotNil(t, value)
}

func TestInterp_SyntaxErrorIsCompileError(t *testing.T) {
	s := newTestInterp()

	// The dangling '+' makes the parser trip over the appended wrapper
	// line; the diagnostic must still land inside the one-line fragment.
	_, err := s.Run(context.Background(), "return 1 +")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	require.NotEmpty(t, compileErr.Diagnostics)
	assert.Contains(t, compileErr.Diagnostics[0], "Line 1")
}

func TestInterp_UndefinedSymbolDiagnosticLine(t *testing.T) {
	s := newTestInterp()

	_, err := s.Run(context.Background(), "return undefinedSymbol")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	require.NotEmpty(t, compileErr.Diagnostics)
	assert.Contains(t, compileErr.Diagnostics[0], "Line 1")
	assert.Contains(t, compileErr.Diagnostics[0], "undefined")
}

func TestInterp_PanicIsRuntimeError(t *testing.T) {
	s := newTestInterp()

	_, err := s.Run(context.Background(), `panic(errors.New("boom"))`)

	var runtimeErr *RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	// The inner cause, not a wrapper message.
	assert.Equal(t, "boom", runtimeErr.Message)
}

func TestInterp_ExcludedReferenceUnavailable(t *testing.T) {
	s := newTestInterp()

	_, err := s.Run(context.Background(), "return testing.Short()")

	assert.Error(t, err)
}

func TestInterp_FreshStatePerRun(t *testing.T) {
	s := newTestInterp()

	_, err := s.Run(context.Background(), "leak := 7\n_ = leak\nreturn leak")
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "return leak")
	assert.Error(t, err)
}
