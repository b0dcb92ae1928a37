package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

const (
	circularSentinel = "[Circular]"
	maxDepthSentinel = "[MaxDepth]"

	// exportErrorField carries the serialization error in a diagnostic record
	// when even the safe serializer cannot render a document
	exportErrorField = "_exportError"

	safeSerializeMaxDepth = 64
)

var jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// marshalDocument serializes a document to a single JSON line. The normal
// path is plain json.Marshal; if that fails (cyclic structures, unsupported
// values), the document is rebuilt through the safe serializer, which
// substitutes sentinels for cycles and over-deep nesting. As a last resort a
// diagnostic record carrying the error message is emitted, so the document's
// presence in the artifact is never silently lost. The second return value
// reports whether a fallback path was taken.
func marshalDocument(doc any) ([]byte, bool) {
	data, err := json.Marshal(doc)
	if err == nil {
		return data, false
	}

	safe := safeValue(reflect.ValueOf(doc), map[uintptr]bool{}, safeSerializeMaxDepth)
	if data, safeErr := json.Marshal(safe); safeErr == nil {
		return data, true
	}

	diag, _ := json.Marshal(map[string]string{exportErrorField: err.Error()})
	return diag, true
}

// safeValue rebuilds v as a cycle-free tree of basic Go values. Maps, slices
// and pointers are tracked by identity; revisiting one yields the circular
// sentinel. Depth is bounded so pathological nesting cannot recurse without
// limit.
func safeValue(v reflect.Value, seen map[uintptr]bool, depth int) any {
	if depth <= 0 {
		return maxDepthSentinel
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return safeValue(v.Elem(), seen, depth-1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		seen[ptr] = true
		return safeValue(v.Elem(), seen, depth-1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		seen[ptr] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = safeValue(iter.Value(), seen, depth-1)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte keeps json's base64 encoding
			return v.Interface()
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return circularSentinel
		}
		seen[ptr] = true
		return safeElements(v, seen, depth)

	case reflect.Array:
		return safeElements(v, seen, depth)

	case reflect.Struct:
		// Types with their own JSON representation (ObjectID, time.Time)
		// are passed through untouched
		if v.Type().Implements(jsonMarshalerType) || reflect.PointerTo(v.Type()).Implements(jsonMarshalerType) {
			return v.Interface()
		}
		out := make(map[string]any, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = safeValue(v.Field(i), seen, depth-1)
		}
		return out

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("[Unsupported:%s]", v.Kind())

	default:
		return v.Interface()
	}
}

func safeElements(v reflect.Value, seen map[uintptr]bool, depth int) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = safeValue(v.Index(i), seen, depth-1)
	}
	return out
}
