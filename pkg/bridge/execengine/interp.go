package execengine

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/unity"
)

// unityImportPath is the short path fragments use to reach the host value
// types ("unity.Vector3{...}" and friends).
const unityImportPath = "unity"

// Interp executes fragments with an embedded interpreter, entirely
// in-process and synchronously on the calling goroutine. Each run gets a
// fresh interpreter so no state leaks between fragments.
type Interp struct {
	symbols interp.Exports
	prelude string
}

// NewInterp builds the strategy, resolving the reference set once.
func NewInterp(excludedModules []string) *Interp {
	symbols := make(interp.Exports, len(stdlib.Symbols)+1)

	keys := make([]string, 0, len(stdlib.Symbols))
	for key, exports := range stdlib.Symbols {
		symbols[key] = exports
		keys = append(keys, key)
	}

	symbols[unityImportPath+"/"+unityImportPath] = unitySymbols()
	keys = append(keys, unityImportPath+"/"+unityImportPath)

	refs := resolveReferences(keys, excludedModules)

	// Drop symbol entries the reference resolution rejected so an explicit
	// qualified use cannot sneak past the exclusion list.
	for key := range symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		path, name := key[:idx], key[idx+1:]
		if won, ok := refs.paths[name]; !ok || won != path {
			delete(symbols, key)
		}
	}

	return &Interp{
		symbols: symbols,
		prelude: refs.ImportBlock(),
	}
}

func unitySymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Vector2": reflect.ValueOf((*unity.Vector2)(nil)),
		"Vector3": reflect.ValueOf((*unity.Vector3)(nil)),
		"Color":   reflect.ValueOf((*unity.Color)(nil)),
	}
}

func (s *Interp) Name() string { return "interp" }

// Run compiles and invokes one fragment. Compile problems surface as
// *CompileError, user-code panics as *RuntimeError with the inner cause
// unwrapped.
func (s *Interp) Run(ctx context.Context, source string) (value interface{}, err error) {
	defer func() {
		// A panic escaping the interpreter must not take the drain
		// goroutine down.
		if r := recover(); r != nil {
			value = nil
			err = &RuntimeError{
				Message: panicMessage(r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	i := interp.New(interp.Options{})
	if useErr := i.Use(s.symbols); useErr != nil {
		return nil, fmt.Errorf("binding reference set: %w", useErr)
	}

	if s.prelude != "" {
		if _, preludeErr := i.Eval(s.prelude); preludeErr != nil {
			return nil, fmt.Errorf("importing reference set: %w", preludeErr)
		}
	}

	if _, compileErr := i.Eval(wrapFragment(source)); compileErr != nil {
		return nil, &CompileError{
			Diagnostics: diagnostics(compileErr.Error(), wrapperHeaderLines, fragmentLines(source)),
		}
	}

	rv, callErr := i.Eval(entryPoint + "()")
	if callErr != nil {
		var p interp.Panic
		if asPanic(callErr, &p) {
			return nil, &RuntimeError{
				Message: panicMessage(p.Value),
				Stack:   string(p.Stack),
			}
		}
		return nil, &RuntimeError{Message: callErr.Error()}
	}

	if !rv.IsValid() || !rv.CanInterface() {
		return nil, nil
	}
	return rv.Interface(), nil
}

// asPanic pulls an interpreter panic out of an error chain.
func asPanic(err error, p *interp.Panic) bool {
	for err != nil {
		if v, ok := err.(interp.Panic); ok {
			*p = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// panicMessage unwraps the user code's own error from a panic value so the
// report is not a generic wrapper message.
func panicMessage(v interface{}) string {
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
