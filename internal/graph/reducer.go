package graph

import "reflect"

// ReducerKind is one of three field-merge strategies for reconciling a
// node's delta into the running state. The underlying graph/state.go
// Reducer[S] models a reducer as one whole-state function; here it is
// generalized to a tag declared per field, since the case-graph state is
// one concrete struct and field-by-field merge semantics are what this
// state actually needs.
type ReducerKind string

const (
	// ReducerOverwriteIfSet replaces prev with delta whenever delta is not
	// the field's zero value. This is the default when a field carries no
	// `graph` tag.
	ReducerOverwriteIfSet ReducerKind = "overwrite_if_set"

	// ReducerAppendIfNew appends delta's slice elements to prev's, skipping
	// elements already present (by reflect.DeepEqual). Only valid on slice
	// fields.
	ReducerAppendIfNew ReducerKind = "append_if_new"

	// ReducerPreserveUnlessExplicit keeps prev unless the node's delta
	// explicitly sets a non-zero value. Mechanically identical to
	// overwrite_if_set in a language without nil-vs-unset distinction on
	// value types, but named separately because callers reason about "did
	// this node have an opinion" rather than "is this zero".
	ReducerPreserveUnlessExplicit ReducerKind = "preserve_unless_explicit"
)

// fieldTag is the struct tag key nodes use to declare a field's reducer,
// e.g. `graph:"append_if_new"`.
const fieldTag = "graph"

// Merge applies S's declared field reducers to fold delta into prev and
// returns the result. S must be a struct type (not a pointer); panics
// otherwise, since a malformed state type is a programming error caught at
// graph-construction time, not a runtime condition to recover from.
func Merge[S any](prev, delta S) S {
	prevV := reflect.ValueOf(&prev).Elem()
	deltaV := reflect.ValueOf(&delta).Elem()
	t := prevV.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		kind := ReducerKind(field.Tag.Get(fieldTag))
		if kind == "" {
			kind = ReducerOverwriteIfSet
		}

		pf := prevV.Field(i)
		df := deltaV.Field(i)

		switch kind {
		case ReducerAppendIfNew:
			mergeAppendIfNew(pf, df)
		case ReducerOverwriteIfSet, ReducerPreserveUnlessExplicit:
			if !df.IsZero() {
				pf.Set(df)
			}
		default:
			if !df.IsZero() {
				pf.Set(df)
			}
		}
	}

	return prevV.Interface().(S)
}

func mergeAppendIfNew(prev, delta reflect.Value) {
	if delta.Kind() != reflect.Slice || prev.Kind() != reflect.Slice {
		return
	}
	for i := 0; i < delta.Len(); i++ {
		item := delta.Index(i)
		found := false
		for j := 0; j < prev.Len(); j++ {
			if reflect.DeepEqual(prev.Index(j).Interface(), item.Interface()) {
				found = true
				break
			}
		}
		if !found {
			prev.Set(reflect.Append(prev, item))
		}
	}
}
