package losantmqtt

// Extended JSON decoding for platform command payloads.
//
// The platform embeds non-native types in commands as tagged sub-objects:
// {"$date": "<timestamp>"} for date values and {"$undefined": true} for
// undefined placeholders. Every JSON object, nested included, is checked
// for these markers; objects with neither decode as ordinary maps.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// extDateLayout parses the wall-clock portion of a $date string. The
// fractional-second component is accepted with any number of digits.
const extDateLayout = "2006-01-02T15:04:05"

// decodeCommand parses a command payload as JSON and reconstructs
// extended-type values.
func decodeCommand(payload []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parsing command payload: %w", err)
	}
	return decodeExtended(raw)
}

// decodeExtended walks a decoded JSON value and replaces extended-type
// markers: objects with a $date key become UTC timestamps, objects with an
// $undefined key become nil.
func decodeExtended(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if raw, ok := val["$date"]; ok {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("$date value is not a string")
			}
			return parseExtendedDate(s)
		}
		if _, ok := val["$undefined"]; ok {
			return nil, nil
		}
		for key, child := range val {
			decoded, err := decodeExtended(child)
			if err != nil {
				return nil, err
			}
			val[key] = decoded
		}
		return val, nil
	case []any:
		for i, child := range val {
			decoded, err := decodeExtended(child)
			if err != nil {
				return nil, err
			}
			val[i] = decoded
		}
		return val, nil
	default:
		return v, nil
	}
}

// parseExtendedDate parses a $date string of the form
// YYYY-MM-DDTHH:MM:SS.ffffff followed by Z, +HH:MM, +HHMM, or +HH (and
// their negative forms). The UTC instant is computed by subtracting the
// offset from the wall-clock components; the result is a UTC timestamp
// with microsecond precision.
func parseExtendedDate(s string) (time.Time, error) {
	datePart, offset, err := splitDateOffset(s)
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(extDateLayout, datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing $date %q: %w", s, err)
	}

	return t.Add(-time.Duration(offset) * time.Second).Truncate(time.Microsecond), nil
}

// splitDateOffset splits a $date string into its wall-clock part and the
// offset in seconds east of UTC.
func splitDateOffset(s string) (datePart string, offsetSeconds int, err error) {
	n := len(s)
	switch {
	case n > 0 && s[n-1] == 'Z':
		return s[:n-1], 0, nil
	case n > 6 && s[n-3] == ':' && (s[n-6] == '+' || s[n-6] == '-'):
		// (+|-)HH:MM
		offsetSeconds, err = parseOffset(s[n-6:], 5)
		return s[:n-6], offsetSeconds, err
	case n > 5 && (s[n-5] == '+' || s[n-5] == '-'):
		// (+|-)HHMM
		offsetSeconds, err = parseOffset(s[n-5:], 4)
		return s[:n-5], offsetSeconds, err
	case n > 3 && (s[n-3] == '+' || s[n-3] == '-'):
		// (+|-)HH
		offsetSeconds, err = parseOffset(s[n-3:], 2)
		return s[:n-3], offsetSeconds, err
	default:
		// No offset suffix; treat as UTC.
		return s, 0, nil
	}
}

// parseOffset converts an offset suffix like +05:30, -0800 or +02 into
// seconds east of UTC. digits is the suffix length excluding the sign.
func parseOffset(offset string, digits int) (int, error) {
	body := offset[1:]
	var hours, minutes int
	var err error

	switch digits {
	case 5: // HH:MM
		parts := strings.SplitN(body, ":", 2)
		if hours, err = strconv.Atoi(parts[0]); err == nil {
			minutes, err = strconv.Atoi(parts[1])
		}
	case 4: // HHMM
		if hours, err = strconv.Atoi(body[:2]); err == nil {
			minutes, err = strconv.Atoi(body[2:])
		}
	case 2: // HH
		hours, err = strconv.Atoi(body)
	}
	if err != nil {
		return 0, fmt.Errorf("parsing offset %q: %w", offset, err)
	}

	seconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		seconds = -seconds
	}
	return seconds, nil
}
