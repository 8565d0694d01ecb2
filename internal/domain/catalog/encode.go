package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	slugInvalid   = regexp.MustCompile(`[^a-z0-9]+`)
	versionPrefix = regexp.MustCompile(`^v\d+/`)
	fileExtension = regexp.MustCompile(`\.[^/.]+$`)
)

// Slugify lower-cases name, collapses every run of characters outside
// [a-z0-9] into a single hyphen and trims hyphens from both ends.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// EncodeArray renders values as a PostgreSQL array literal: elements are
// joined with commas inside braces, with backslashes and double quotes
// escaped. Elements are not quoted; the record table relies on that exact
// format.
func EncodeArray(values []any) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		s := Stringify(v)
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		b.WriteString(s)
	}
	b.WriteByte('}')
	return b.String()
}

// Stringify renders a decoded JSON value as text. nil renders as "null" so
// that array literals carry SQL NULL at that position.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		if raw, err := json.Marshal(t); err == nil {
			return string(raw)
		}
		return fmt.Sprint(t)
	}
}

// DerivePublicID extracts the asset identifier from an asset host delivery
// URL: the path after the "upload" segment, without a leading "v<digits>/"
// version segment and without the file extension. It returns "" when the URL
// is not absolute, has no "upload" segment or nothing follows it.
func DerivePublicID(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	parts := strings.Split(u.EscapedPath(), "/")
	idx := -1
	for i, p := range parts {
		if p == "upload" {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ""
	}
	rest := strings.Join(parts[idx+1:], "/")
	if rest == "" {
		return ""
	}
	rest = versionPrefix.ReplaceAllString(rest, "")
	return fileExtension.ReplaceAllString(rest, "")
}

// IDGenerator produces identifiers for records submitted without one.
type IDGenerator interface {
	NewID() int64
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() int64

// NewID implements IDGenerator.
func (f IDGeneratorFunc) NewID() int64 { return f() }

// TimeIDGenerator returns milliseconds since the epoch times 1000 plus a
// random offset in [0, 1000). Two writers in the same millisecond collide
// with probability 1/1000; the table's primary key is the only guard.
type TimeIDGenerator struct {
	Now func() time.Time
}

// NewID implements IDGenerator.
func (g TimeIDGenerator) NewID() int64 {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return now().UnixMilli()*1000 + rand.Int64N(1000)
}

// truthy mirrors loose boolean coercion of decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

// CoerceBool converts an in-stock value to a boolean. Strings are true unless
// they equal "false", "0" or "no" ignoring case and surrounding space.
func CoerceBool(v any) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "false", "0", "no":
			return false
		default:
			return true
		}
	}
	return truthy(v)
}

// isZeroID reports whether an id value is absent for the purpose of
// generating a new one: nil, an empty string, or anything numerically zero.
func isZeroID(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return true
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f == 0
	case bool:
		return !t
	case float64:
		return t == 0
	case int64:
		return t == 0
	case int:
		return t == 0
	default:
		return false
	}
}
