// Package serialize converts arbitrary command results into a transport-safe
// tree of scalars, mappings and strings. Conversion is best-effort and lossy
// for sequences and unknown object graphs; it never fails.
package serialize

import (
	"fmt"
	"reflect"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/unity"
)

// fieldErrorSentinel replaces a field value whose conversion panicked.
const fieldErrorSentinel = "<error>"

// Result converts a raw command result into its transport representation.
// Every returned tree carries success=true; engine-level failures are
// reported on the outer response envelope, not here.
//
// Dispatch order, first match wins:
//  1. nil
//  2. scalar passthrough
//  3. known editor value types flattened to component maps
//  4. mapping passthrough
//  5. sequence of display strings plus count (lossy)
//  6. exported-field walk with per-field fallback
//  7. display string plus type name
func Result(value interface{}) (tree map[string]interface{}) {
	defer func() {
		// The walk below must never take the drain loop down with it.
		if r := recover(); r != nil {
			tree = map[string]interface{}{
				"success": true,
				"result":  fieldErrorSentinel,
				"type":    fmt.Sprintf("%T", value),
			}
		}
	}()
	return convert(value)
}

func convert(value interface{}) map[string]interface{} {
	if value == nil {
		return map[string]interface{}{"success": true, "result": nil}
	}

	switch v := value.(type) {
	case unity.Vector2:
		return success(map[string]interface{}{"x": v.X, "y": v.Y})
	case unity.Vector3:
		return success(map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z})
	case unity.Color:
		return success(map[string]interface{}{"r": v.R, "g": v.G, "b": v.B, "a": v.A})
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return map[string]interface{}{"success": true, "result": nil}
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return success(rv.Interface())

	case reflect.Map:
		return success(rv.Interface())

	case reflect.Slice, reflect.Array:
		n := rv.Len()
		items := make([]string, n)
		for i := 0; i < n; i++ {
			items[i] = displayString(rv.Index(i).Interface())
		}
		return map[string]interface{}{
			"success": true,
			"result":  items,
			"count":   n,
		}

	case reflect.Struct:
		if fields, ok := walkFields(rv); ok {
			return success(fields)
		}
	}

	return map[string]interface{}{
		"success": true,
		"result":  displayString(rv.Interface()),
		"type":    rv.Type().String(),
	}
}

func success(result interface{}) map[string]interface{} {
	return map[string]interface{}{"success": true, "result": result}
}

// walkFields converts every exported field of a struct to its display
// string. It reports ok=false when the struct exposes nothing, in which
// case the caller falls through to the final fallback.
func walkFields(rv reflect.Value) (map[string]interface{}, bool) {
	t := rv.Type()
	fields := make(map[string]interface{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[f.Name] = fieldString(rv.Field(i))
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// fieldString converts one field, substituting a sentinel when the value's
// own formatting panics (a hostile String method, for example).
func fieldString(fv reflect.Value) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fieldErrorSentinel
		}
	}()
	if !fv.CanInterface() {
		return fieldErrorSentinel
	}
	return displayString(fv.Interface())
}

func displayString(v interface{}) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fieldErrorSentinel
		}
	}()
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
