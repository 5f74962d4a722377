package query

import "reflect"

// Gate decides whether a query may run. A closed gate means no fetch and an
// idle result; it is re-checked on every Get, SetKey and Reevaluate.
type Gate func() bool

// Always is the default gate.
func Always() bool { return true }

// Present returns a gate that is open when every value is present: not nil,
// not the zero value, and not an empty string, slice or map. Pointers are
// followed at evaluation time, so Present(&parentID) opens once parentID is
// chosen.
func Present(values ...any) Gate {
	return func() bool {
		for _, v := range values {
			if !present(reflect.ValueOf(v)) {
				return false
			}
		}

		return true
	}
}

func present(v reflect.Value) bool {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return false
		}

		v = v.Elem()
	}

	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() > 0
	case reflect.Func, reflect.Chan:
		return !v.IsNil()
	default:
		return !v.IsZero()
	}
}
