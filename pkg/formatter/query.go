package formatter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseQuery parses a raw "aa=xx&bb=yy" query string into a map, applying
// valueTransMapping's type conversions ("int", "number") to named
// parameters; unlisted parameters are kept as strings. This is the Go
// equivalent of the contract's RouterTools.get_query_dict.
func ParseQuery(rawQuery string, valueTransMapping map[string]string) map[string]any {
	result := map[string]any{}
	if rawQuery == "" {
		return result
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return result
	}

	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		raw := vals[0]
		result[name] = convertQueryValue(name, raw, valueTransMapping)
	}
	return result
}

func convertQueryValue(name, raw string, valueTransMapping map[string]string) any {
	kind, ok := valueTransMapping[name]
	if !ok {
		return raw
	}
	switch kind {
	case "int":
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// FormatURI renders a route template containing "<name:type>" positional
// placeholders by substituting args in order, then appends kwargs as a
// "?aa=xx&bb=yy" query string. This is the Go equivalent of the contract's
// RouterTools.format_uri.
func FormatURI(uri string, args []any, kwargs map[string]any) string {
	result := uri
	if len(args) > 0 {
		segments := strings.Split(uri, "/")
		argPos := 0
		for i, seg := range segments {
			if strings.HasPrefix(seg, "<") && strings.HasSuffix(seg, ">") && argPos < len(args) {
				segments[i] = stringifyArg(args[argPos])
				argPos++
			}
		}
		result = strings.Join(segments, "/")
	}

	if len(kwargs) > 0 {
		var parts []string
		for k, v := range kwargs {
			parts = append(parts, k+"="+stringifyArg(v))
		}
		result = result + "?" + strings.Join(parts, "&")
	}

	return result
}

func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
