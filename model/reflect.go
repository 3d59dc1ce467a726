package model

import (
	"log/slog"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/sooftware/End-to-end-Speech-Recognition/logutil"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Tag is a parsed pt struct tag naming the checkpoint key of a field.
type Tag struct {
	name,
	// prefix and suffix apply to child tags
	prefix,
	suffix string
	alternatives []string
	optional     bool
}

func parseTag(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	if len(parts) > 0 {
		tag.name = parts[0]

		for _, part := range parts[1:] {
			if value, ok := strings.CutPrefix(part, "alt:"); ok && tag.name == "" {
				// promote the alternative when there is no primary name
				tag.name = value
				slog.Warn("pt tag has alt: but no primary name", "tag", s)
			} else if ok {
				tag.alternatives = append(tag.alternatives, value)
			}
			if value, ok := strings.CutPrefix(part, "pre:"); ok {
				tag.prefix = value
			}
			if value, ok := strings.CutPrefix(part, "suf:"); ok {
				tag.suffix = value
			}
			if part == "opt" {
				tag.optional = true
			}
		}
	}

	return
}

// populateFields fills tensor fields recursively from the checkpoint,
// accumulating the dotted key from the pt tags along the path. Fields whose
// key is absent are recorded as missing unless a tag on the path carries opt.
func populateFields(base *Base, v reflect.Value, tags ...Tag) reflect.Value {
	t := v.Type()

	if t.Kind() == reflect.Struct {
		for i := range t.NumField() {
			tt := t.Field(i).Type
			vv := v.Field(i)
			if !vv.CanSet() {
				continue
			}

			tagsCopy := tags
			if tag := t.Field(i).Tag.Get("pt"); tag != "" {
				tagsCopy = append(tagsCopy, parseTag(tag))
			}

			if tt == reflect.TypeOf((*Base)(nil)).Elem() {
				vv.Set(reflect.ValueOf(*base))
			} else if tt == reflect.TypeOf((*ml.Tensor)(nil)) {
				names := buildTensorNames(tagsCopy, "", "")
				for _, name := range names {
					key := strings.Join(name, ".")
					if tensor := base.weights.Get(key); tensor != nil {
						logutil.Trace("found tensor", "name", key, "shape", tensor.Shape())
						vv.Set(reflect.ValueOf(tensor))
						base.used[key] = true
						break
					}
				}

				if vv.IsNil() && !optional(tagsCopy) && len(names) > 0 {
					base.missing = append(base.missing, strings.Join(names[0], "."))
				}
			} else if tt.Kind() == reflect.Pointer || tt.Kind() == reflect.Interface {
				setPointer(base, vv, tagsCopy)
			} else if tt.Kind() == reflect.Slice || tt.Kind() == reflect.Array {
				for i := range vv.Len() {
					vvv := vv.Index(i)
					if vvv.Kind() == reflect.Pointer || vvv.Kind() == reflect.Interface {
						setPointer(base, vvv, append(tagsCopy, Tag{name: strconv.Itoa(i)}))
					} else {
						vvv.Set(populateFields(base, vvv, append(tagsCopy, Tag{name: strconv.Itoa(i)})...))
					}
				}
			}
		}
	}

	return v
}

// optional reports whether any tag on the path carries opt, marking the
// field or the whole subtree as allowed to be absent.
func optional(tags []Tag) bool {
	for _, tag := range tags {
		if tag.optional {
			return true
		}
	}

	return false
}

// buildTensorNames expands a tag path into every candidate key, one branch
// per alternative name.
func buildTensorNames(tags []Tag, prefix, suffix string) (fullNames [][]string) {
	if len(tags) > 0 {
		var names []string
		if tags[0].name != "" {
			for _, n := range append([]string{tags[0].name}, tags[0].alternatives...) {
				names = append(names, prefix+n+suffix)
			}
		}
		childNames := buildTensorNames(tags[1:], tags[0].prefix, tags[0].suffix)
		if len(names) == 0 {
			// no name on this tag, pass the children through
			fullNames = append(fullNames, childNames...)
		} else if len(childNames) == 0 {
			for _, name := range names {
				fullNames = append(fullNames, []string{name})
			}
		} else {
			for _, name := range names {
				for _, childName := range childNames {
					fullNames = append(fullNames, append([]string{name}, childName...))
				}
			}
		}
	}

	return fullNames
}

func setPointer(base *Base, v reflect.Value, tags []Tag) {
	vv := v
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}

		vv = vv.Elem()
	}

	if v.IsNil() {
		vv = reflect.New(v.Type().Elem()).Elem()
	} else {
		vv = reflect.Indirect(vv)
	}

	if f := populateFields(base, vv, tags...); f.CanAddr() {
		v.Set(f.Addr())
	}
}

func (m *Base) logUnused() {
	var unused []string
	for name := range m.weights.Names() {
		if !m.used[name] {
			unused = append(unused, name)
		}
	}

	if len(unused) > 0 {
		slices.Sort(unused)
		slog.Debug("checkpoint tensors not referenced by the model", "names", unused)
	}
}
