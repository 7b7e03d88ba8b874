package postgres

import (
	"reflect"
	"slices"
	"sync"
)

// ExtractDBColumns returns the column names of T's "db" tags in field
// order, descending into embedded structs (entity.OwnedEntity).
// Repositories call it once at package init to build their column lists.
//
//	columns := ExtractDBColumns[material.RawMaterial]()
//	// ["id", "owner_id", "version", "created_at", "updated_at", "name", ...]
func ExtractDBColumns[T any]() []string {
	var zero T
	meta := metadataFor(reflect.TypeOf(zero))
	return slices.Clone(meta.columns)
}

// ColumnsExcept returns columns without the listed names.
func ColumnsExcept(columns []string, drop ...string) []string {
	return slices.DeleteFunc(slices.Clone(columns), func(c string) bool {
		return slices.Contains(drop, c)
	})
}

// fieldPath locates a tagged field, possibly inside embedded structs.
type fieldPath struct {
	index  []int
	column string
}

type typeMetadata struct {
	fields  []fieldPath
	columns []string
}

// typeCache holds metadata per reflect.Type.
var typeCache sync.Map

func metadataFor(t reflect.Type) *typeMetadata {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{}
	if t.Kind() == reflect.Struct {
		collectFields(t, nil, meta)
	}
	actual, _ := typeCache.LoadOrStore(t, meta)
	return actual.(*typeMetadata)
}

func collectFields(t reflect.Type, prefix []int, meta *typeMetadata) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(slices.Clone(prefix), i)

		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, index, meta)
			}
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		meta.fields = append(meta.fields, fieldPath{index: index, column: tag})
		meta.columns = append(meta.columns, tag)
	}
}

// StructToMap converts a struct to a column map using "db" tags, ready for
// squirrel's SetMap. Fields tagged "-" or untagged are skipped.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataFor(rv.Type())
	res := make(map[string]any, len(meta.fields))
	for _, f := range meta.fields {
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}

// StructValues returns the values of columns in order, for COPY rows.
func StructValues(v any, columns []string) []any {
	m := StructToMap(v)
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = m[c]
	}
	return out
}
