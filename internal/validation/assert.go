// Package validation holds constructor guards. They panic: a missing
// dependency is a wiring bug, not a runtime condition.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics if ptr is nil.
//
//	validation.AssertNotNil(reg, "flag registry")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(nilMessage(name))
	}
}

// AssertNotNilValue panics if v is nil, including an interface holding a typed nil
// pointer, map, slice, channel or func. Use it for dependencies passed as interfaces.
func AssertNotNilValue(v any, name string) {
	if v == nil {
		panic(nilMessage(name))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		if rv.IsNil() {
			panic(nilMessage(name))
		}
	}
}

func nilMessage(name string) string {
	return fmt.Sprintf("critical error: %s cannot be nil", name)
}
