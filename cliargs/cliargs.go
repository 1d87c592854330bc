// Package cliargs turns a tagged options struct into a flat argument list
// for an external command-line tool (losetup, cryptsetup, dmsetup, mount),
// so device and mount helpers describe their options the same declarative
// way across every kind instead of hand-building []string per helper.
package cliargs

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ToArgs walks s's fields in order, emitting "--flag value" pairs for every
// field tagged `flag:"--name"`. Zero-valued fields are skipped unless the
// tag carries ",keepZero". Slice fields repeat the flag once per element;
// map[string]string fields join as "k=v,k=v" sorted by key; bool fields
// emit the bare flag with no value. Anonymous embedded struct fields are
// flattened into the parent's argument list.
func ToArgs[T any](s *T) []string {
	if s == nil {
		s = new(T)
	}
	var ret []string
	st := reflect.TypeOf(*s)
	sv := reflect.ValueOf(*s)
	if st.Kind() == reflect.Pointer {
		sv = reflect.Indirect(sv)
		st = sv.Type()
	}
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		fv := sv.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			fvi := fv.Interface()
			ret = append(ret, ToArgs(&fvi)...)
			continue
		}
		flagTag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		flagParts := strings.Split(flagTag, ",")
		flagName := flagParts[0]
		keepZero := len(flagParts) > 1 && strings.EqualFold(flagParts[1], "keepZero")

		if !keepZero && fv.IsZero() {
			continue
		}
		if ret == nil {
			ret = []string{}
		}

		flagValue := ""
		switch field.Type.Kind() {
		case reflect.Array, reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				ret = append(ret, flagName, fmt.Sprintf("%v", fv.Index(j)))
			}
			continue
		case reflect.Map:
			m, _ := fv.Interface().(map[string]string)
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, fmt.Sprintf("%v=%v", k, m[k]))
			}
			flagValue = strings.Join(pairs, ",")
		case reflect.Bool:
			// bare flag, no value
		default:
			flagValue = fmt.Sprintf("%v", fv.Interface())
		}

		ret = append(ret, flagName)
		if flagValue != "" {
			ret = append(ret, flagValue)
		}
	}
	return ret
}
