package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Product is a catalog record as served by the upstream product API. Fields are not
// normalised; optional numeric fields are nil when the upstream omits them.
type Product struct {
	ID            string
	Name          string
	Price         *float64
	OriginalPrice *float64
	Currency      string
	Category      string
	Brand         string
	Badge         string
	Description   string
	Image         string
	Images        []string
	Rating        *float64
	Discount      *float64
	Performance   *float64
	Popularity    *float64
	Specs         Specs
	Features      []string
	RelatedIDs    []string
	Extra         map[string]any
}

// Gallery returns the image list with the primary image first and blanks removed.
func (p Product) Gallery() []string {
	out := make([]string, 0, len(p.Images)+1)
	seen := make(map[string]struct{}, len(p.Images)+1)
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	add(p.Image)
	for _, img := range p.Images {
		add(img)
	}
	return out
}

// Number dereferences an optional numeric field, treating nil as zero.
func Number(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Float returns a pointer to v; a convenience for literals and tests.
func Float(v float64) *float64 { return &v }

// SpecKind discriminates SpecValue variants.
type SpecKind int

const (
	SpecScalar SpecKind = iota
	SpecList
	SpecRecord
)

// SpecValue is one specification entry: a scalar, a list of values, or a nested record.
type SpecValue struct {
	Kind   SpecKind
	Scalar string
	List   []SpecValue
	Record map[string]SpecValue
}

// ScalarSpec builds a scalar spec value from any printable value.
func ScalarSpec(v any) SpecValue {
	return SpecValue{Kind: SpecScalar, Scalar: scalarText(v)}
}

// ListSpec builds a list spec value.
func ListSpec(values ...SpecValue) SpecValue {
	return SpecValue{Kind: SpecList, List: values}
}

// RecordSpec builds a record spec value.
func RecordSpec(fields map[string]SpecValue) SpecValue {
	return SpecValue{Kind: SpecRecord, Record: fields}
}

// SpecFromAny converts decoded JSON/YAML into a SpecValue.
func SpecFromAny(v any) SpecValue {
	switch t := v.(type) {
	case []any:
		items := make([]SpecValue, 0, len(t))
		for _, item := range t {
			items = append(items, SpecFromAny(item))
		}
		return ListSpec(items...)
	case map[string]any:
		fields := make(map[string]SpecValue, len(t))
		for k, item := range t {
			fields[k] = SpecFromAny(item)
		}
		return RecordSpec(fields)
	default:
		return ScalarSpec(v)
	}
}

// String renders the value: scalars as text, lists comma-joined, records as
// "key: value" pairs sorted by key.
func (v SpecValue) String() string {
	switch v.Kind {
	case SpecList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			if s := item.String(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case SpecRecord:
		keys := sortedKeys(v.Record)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := v.Record[k].String(); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return v.Scalar
	}
}

// Specs maps specification names to values.
type Specs map[string]SpecValue

// SpecRow is one rendered specification line.
type SpecRow struct {
	Label string
	Value string
}

// Rows returns the specs as label/value rows sorted by label.
func (s Specs) Rows() []SpecRow {
	keys := sortedKeys(s)
	rows := make([]SpecRow, 0, len(keys))
	for _, k := range keys {
		value := s[k].String()
		if value == "" {
			continue
		}
		rows = append(rows, SpecRow{Label: humanizeKey(k), Value: value})
	}
	return rows
}

// Text concatenates every spec value, in key order, for free-text matching.
// Keys are left out at every depth, so "size" never matches a display record.
func (s Specs) Text() string {
	keys := sortedKeys(s)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = s[k].appendValues(parts)
	}
	return strings.Join(parts, " ")
}

func (v SpecValue) appendValues(parts []string) []string {
	switch v.Kind {
	case SpecList:
		for _, item := range v.List {
			parts = item.appendValues(parts)
		}
	case SpecRecord:
		for _, k := range sortedKeys(v.Record) {
			parts = v.Record[k].appendValues(parts)
		}
	default:
		if v.Scalar != "" {
			parts = append(parts, v.Scalar)
		}
	}
	return parts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// humanizeKey turns "refreshRate" or "refresh_rate" into "Refresh rate".
func humanizeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case i > 0 && r >= 'A' && r <= 'Z':
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return out
	}
	first := out[0]
	if first >= 'a' && first <= 'z' {
		out = string(first-('a'-'A')) + out[1:]
	}
	return out
}
