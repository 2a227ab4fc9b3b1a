// Package template provides the parsed Heat template document model.
// Property trees are held as a tagged variant (Value) with ordered maps so every
// downstream pass walks resources and properties in source order.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is one node of a property tree.
type Value struct {
	kind  Kind
	str   string
	num   float64
	truth bool
	items []*Value

	// ordered map storage
	keys   []string
	fields map[string]*Value
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Null returns a null value.
func Null() *Value { return &Value{kind: KindNull} }

// String returns a string value.
func String(s string) *Value { return &Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) *Value { return &Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) *Value { return &Value{kind: KindBool, truth: b} }

// List returns a list value holding items.
func List(items ...*Value) *Value {
	if items == nil {
		items = []*Value{}
	}
	return &Value{kind: KindList, items: items}
}

// NewMap returns an empty map value.
func NewMap() *Value {
	return &Value{kind: KindMap, fields: make(map[string]*Value)}
}

// MapOf builds a map from alternating key/value pairs, preserving order.
func MapOf(pairs ...any) *Value {
	m := NewMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("template.MapOf: key %v is not a string", pairs[i]))
		}
		m.Set(key, From(pairs[i+1]))
	}
	return m
}

// From converts plain Go data (as produced by encoding/json or literals) into a Value.
// Go maps are not ordered, so their keys are inserted in sorted order.
func From(v any) *Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case *Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case float64:
		return Number(x)
	case json.Number:
		f, _ := x.Float64()
		return Number(f)
	case []any:
		items := make([]*Value, len(x))
		for i, item := range x {
			items[i] = From(item)
		}
		return List(items...)
	case []string:
		items := make([]*Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...)
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(x) {
			m.Set(k, From(x[k]))
		}
		return m
	default:
		return String(fmt.Sprint(x))
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Kind returns the variant held by v. A nil *Value reports KindNull.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is nil or null.
func (v *Value) IsNull() bool { return v.Kind() == KindNull }

// IsMap reports whether v is a map.
func (v *Value) IsMap() bool { return v.Kind() == KindMap }

// IsList reports whether v is a list.
func (v *Value) IsList() bool { return v.Kind() == KindList }

// IsScalar reports whether v is neither a list nor a map.
func (v *Value) IsScalar() bool {
	k := v.Kind()
	return k != KindList && k != KindMap
}

// Str returns the string payload.
func (v *Value) Str() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.str, true
}

// Num returns the numeric payload.
func (v *Value) Num() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Truth returns the boolean payload.
func (v *Value) Truth() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.truth, true
}

// Items returns the elements of a list (nil for other kinds). The slice is shared.
func (v *Value) Items() []*Value {
	if v.Kind() != KindList {
		return nil
	}
	return v.items
}

// SetItem replaces element i of a list.
func (v *Value) SetItem(i int, item *Value) {
	if v.Kind() != KindList || i < 0 || i >= len(v.items) {
		return
	}
	v.items[i] = item
}

// Append adds elements to a list.
func (v *Value) Append(items ...*Value) {
	if v.Kind() != KindList {
		return
	}
	v.items = append(v.items, items...)
}

// Get returns the value stored under key in a map.
func (v *Value) Get(key string) (*Value, bool) {
	if v.Kind() != KindMap {
		return nil, false
	}
	child, ok := v.fields[key]
	return child, ok
}

// Has reports whether a map holds key.
func (v *Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Keys returns map keys in insertion order. The slice is a copy.
func (v *Value) Keys() []string {
	if v.Kind() != KindMap {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of list elements or map entries.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Set stores child under key. Existing keys keep their position.
func (v *Value) Set(key string, child *Value) {
	if v.Kind() != KindMap {
		return
	}
	if child == nil {
		child = Null()
	}
	if _, exists := v.fields[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = child
}

// Delete removes key from a map.
func (v *Value) Delete(key string) {
	if v.Kind() != KindMap {
		return
	}
	if _, exists := v.fields[key]; !exists {
		return
	}
	delete(v.fields, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Replace overwrites v in place with the contents of other. Anything holding
// a pointer to v observes the new variant. other should not be used afterwards.
func (v *Value) Replace(other *Value) {
	if other == nil {
		other = Null()
	}
	*v = *other
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	out := &Value{kind: v.kind, str: v.str, num: v.num, truth: v.truth}
	switch v.kind {
	case KindList:
		out.items = make([]*Value, len(v.items))
		for i, item := range v.items {
			out.items[i] = item.Clone()
		}
	case KindMap:
		out.keys = make([]string, len(v.keys))
		copy(out.keys, v.keys)
		out.fields = make(map[string]*Value, len(v.fields))
		for k, child := range v.fields {
			out.fields[k] = child.Clone()
		}
	}
	return out
}

// Equal reports structural equality. Map key order is ignored.
func (v *Value) Equal(o *Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.truth == o.truth
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for k, child := range v.fields {
			oc, ok := o.fields[k]
			if !ok || !child.Equal(oc) {
				return false
			}
		}
		return true
	}
	return false
}

// Scalar renders a scalar as text: numbers without trailing zeros, booleans as
// true/false, null as the empty string. Lists and maps render as compact JSON.
func (v *Value) Scalar() string {
	switch v.Kind() {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.truth)
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(out)
	}
}

// Interface converts v back into plain Go data.
func (v *Value) Interface() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.truth
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.fields[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v keeping map key order.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encode(buf *bytes.Buffer) error {
	switch v.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		out, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(out)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("unsupported number %v", v.num)
		}
		buf.WriteString(formatNumber(v.num))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.truth))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON decodes JSON into v. Object key order is preserved.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeJSON(dec)
	if err != nil {
		return err
	}
	*v = *decoded
	return nil
}

func decodeJSON(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				child, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			list := List()
			for dec.More() {
				child, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				list.items = append(list.items, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return From(t), nil
	}
}

// =============================================================================
// TRAVERSAL
// =============================================================================

// Walk visits v and every descendant depth-first, parents before children.
// Returning false from fn skips the children of the visited value.
func (v *Value) Walk(fn func(*Value) bool) {
	if v == nil || !fn(v) {
		return
	}
	switch v.kind {
	case KindList:
		for _, item := range v.items {
			item.Walk(fn)
		}
	case KindMap:
		for _, k := range v.keys {
			v.fields[k].Walk(fn)
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
