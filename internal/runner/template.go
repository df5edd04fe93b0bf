package runner

import (
	"errors"
	"fmt"
	"os"
	"reflect"
)

// ExpandTemplates expands ${VAR} references in place in the struct (or slice
// of structs) pointed to by in.
//
// Strings, *string and []string are expanded only when the field carries a
// `template` tag (`template:"-"` opts out). Nested structs, pointers to
// structs, slices of either and map[string]string values are always
// traversed. Nil values and unexported fields are left alone. Every unknown
// variable is reported, not only the first.
func ExpandTemplates[T any](in *T, variables map[string]string) error {
	if in == nil {
		return nil
	}

	v := reflect.ValueOf(in).Elem()
	if v.Kind() != reflect.Struct && v.Kind() != reflect.Slice {
		return fmt.Errorf("ExpandTemplates expects *struct or *[]struct; got *%s", v.Type())
	}

	e := expander{variables: variables}
	e.value(v, false)
	return e.errs
}

type expander struct {
	variables map[string]string
	errs      error
}

// value expands v. tagged reports whether the field holding v opted into
// string expansion.
func (e *expander) value(v reflect.Value, tagged bool) {
	switch v.Kind() {
	case reflect.String:
		if tagged {
			v.SetString(e.expand(v.String()))
		}

	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		if v.Elem().Kind() == reflect.String {
			if !tagged {
				return
			}
			// Replace the pointer so a string shared with the caller is not mutated.
			expanded := reflect.New(v.Elem().Type())
			expanded.Elem().SetString(e.expand(v.Elem().String()))
			v.Set(expanded)
			return
		}
		e.value(v.Elem(), tagged)

	case reflect.Struct:
		typ := v.Type()
		for i := range typ.NumField() {
			sf := typ.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag, ok := sf.Tag.Lookup("template")
			e.value(v.Field(i), ok && tag != "-")
		}

	case reflect.Slice:
		for i := range v.Len() {
			e.value(v.Index(i), tagged)
		}

	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String || v.Type().Elem().Kind() != reflect.String {
			return
		}
		expanded, err := ExpandMap(v.Interface().(map[string]string), e.variables)
		if err != nil {
			e.errs = errors.Join(e.errs, err)
			return
		}
		v.Set(reflect.ValueOf(expanded))
	}
}

func (e *expander) expand(s string) string {
	expanded, err := Expand(s, e.variables)
	if err != nil {
		e.errs = errors.Join(e.errs, err)
		return s
	}
	return expanded
}

// Expand replaces ${VAR} references in the input string using the provided variables map.
// Returns an error if any referenced variable is not in the variables map.
func Expand(value string, variables map[string]string) (string, error) {
	var errs error

	result := os.Expand(value, func(key string) string {
		if val, ok := variables[key]; ok {
			return val
		}
		errs = errors.Join(errs, fmt.Errorf("variable %q is not defined (built-in or allowed environment variable)", key))
		return ""
	})

	if errs != nil {
		return "", errs
	}

	return result, nil
}

// ExpandMap expands all values in a map[string]string.
func ExpandMap(values map[string]string, variables map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}

	result := make(map[string]string, len(values))
	var errs error

	for k, v := range values {
		expanded, err := Expand(v, variables)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		result[k] = expanded
	}

	if errs != nil {
		return nil, errs
	}

	return result, nil
}
