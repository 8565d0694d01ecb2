package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Record is a laptops row keyed by column name, ready to be written.
type Record map[string]any

// ID returns the record identifier as text, or "" if it has none.
func (r Record) ID() string {
	v, ok := r[ColID]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Normalized is the result of normalizing one client payload.
type Normalized struct {
	Record Record
	// RemovedPublicIDs are assets the client asked to delete alongside the write.
	RemovedPublicIDs []string
	// Quarantined lists payload keys dropped because they map to no column.
	Quarantined []string
}

// UnknownFieldsError is returned under UnknownReject.
type UnknownFieldsError struct {
	Fields []string
}

func (e *UnknownFieldsError) Error() string {
	return fmt.Sprintf("unknown fields: %s", strings.Join(e.Fields, ", "))
}

// Normalizer maps arbitrary client payloads onto the laptops column shape.
type Normalizer struct {
	ids    IDGenerator
	policy UnknownFieldPolicy
}

// NewNormalizer creates a Normalizer. A nil ids uses TimeIDGenerator.
func NewNormalizer(ids IDGenerator, policy UnknownFieldPolicy) *Normalizer {
	if ids == nil {
		ids = TimeIDGenerator{}
	}
	if policy == "" {
		policy = UnknownDrop
	}
	return &Normalizer{ids: ids, policy: policy}
}

// Normalize renames fields to columns and fills in derived values. It does
// no I/O; malformed optional values are passed through rather than rejected.
func (n *Normalizer) Normalize(raw map[string]any) (*Normalized, error) {
	out := &Normalized{Record: make(Record, len(raw))}
	rec := out.Record

	// Sorted for a deterministic winner when two keys map to one column.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var unknown []string
	for _, k := range keys {
		col, known := ColumnFor(k)
		switch {
		case col == RemovedPublicIDsKey:
			out.RemovedPublicIDs = append(out.RemovedPublicIDs, publicIDList(raw[k])...)
		case known:
			rec[col] = raw[k]
		case n.policy == UnknownPassthrough:
			rec[col] = raw[k]
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		if n.policy == UnknownReject {
			return nil, &UnknownFieldsError{Fields: unknown}
		}
		out.Quarantined = unknown
	}

	for _, col := range []string{ColGalleryImages, ColFeatures} {
		parseJSONString(rec, col)
	}

	if !truthy(rec[ColSlug]) && truthy(rec[ColName]) {
		rec[ColSlug] = Slugify(Stringify(rec[ColName]))
	}

	if isZeroID(rec[ColID]) {
		rec[ColID] = n.ids.NewID()
	}

	if rec[ColImagePublicID] == nil {
		if u, ok := rec[ColImageURL].(string); ok {
			if id := DerivePublicID(u); id != "" {
				rec[ColImagePublicID] = id
			}
		}
	}
	deriveGalleryIDs(rec)

	for _, col := range []string{ColInclusions, ColCategories, ColGalleryPublicIDs} {
		if arr, ok := rec[col].([]any); ok {
			rec[col] = EncodeArray(arr)
		}
	}

	if arr, ok := rec[ColFeatures].([]any); ok {
		if b, err := json.Marshal(arr); err == nil {
			rec[ColFeatures] = json.RawMessage(b)
		}
	}

	if v, ok := rec[ColInStock]; ok {
		rec[ColInStock] = CoerceBool(v)
	}

	return out, nil
}

// deriveGalleryIDs fills missing gallery asset ids from the gallery URLs,
// keeping ids the client supplied. Positions that cannot be derived hold ""
// so the two lists stay aligned.
func deriveGalleryIDs(rec Record) {
	urls, ok := rec[ColGalleryImages].([]any)
	if !ok {
		return
	}
	supplied, isList := rec[ColGalleryPublicIDs].([]any)
	if isList && !slices.ContainsFunc(supplied, isMissingID) {
		return
	}

	merged := make([]any, len(urls))
	filled := false
	for i, u := range urls {
		if i < len(supplied) && !isMissingID(supplied[i]) {
			merged[i] = supplied[i]
			continue
		}
		s, _ := u.(string)
		id := DerivePublicID(s)
		if id != "" {
			filled = true
		}
		merged[i] = id
	}
	if filled {
		rec[ColGalleryPublicIDs] = merged
	}
}

func isMissingID(v any) bool {
	s, ok := v.(string)
	return v == nil || (ok && s == "")
}

// parseJSONString decodes a JSON column that arrived as a string. Invalid
// JSON is left untouched.
func parseJSONString(rec Record, col string) {
	s, ok := rec[col].(string)
	if !ok {
		return
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return
	}
	rec[col] = v
}

// publicIDList extracts non-empty strings from a decoded JSON array.
func publicIDList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
