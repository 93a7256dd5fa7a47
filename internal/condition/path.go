package condition

import (
	"reflect"
	"strconv"
	"strings"
)

// resolvePath walks a dotted path inside an opaque step output. An empty
// path refers to the value itself. Supported containers: maps with string
// keys, slices/arrays with numeric segments, and struct fields by exported
// name. The second return value is false when any segment is absent.
func resolvePath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := resolveSegment(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func resolveSegment(v any, seg string) (any, bool) {
	if v == nil {
		return nil, false
	}

	switch m := v.(type) {
	case map[string]any:
		val, ok := m[seg]
		return val, ok
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
		return resolveSegment(rv.Elem().Interface(), seg)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	case reflect.Struct:
		field := rv.FieldByName(seg)
		if field.IsValid() && field.CanInterface() {
			return field.Interface(), true
		}
		// Fall back to a json tag match so steps can return their wire
		// structs directly.
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if tag == seg && rv.Field(i).CanInterface() {
				return rv.Field(i).Interface(), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// structurallyEqual compares a resolved value with a literal, normalizing
// numeric kinds first so 3, 3.0 and int64(3) are equal.
func structurallyEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1/0/1 for two values under their natural
// ordering: numeric for numbers, lexicographic for strings. ok is false for
// incomparable kinds.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
