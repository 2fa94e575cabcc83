package fieldmap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/apisync/internal/mapping"
)

// multiValueSeparator joins multi-value lists into the remote store's
// packed picklist form.
const multiValueSeparator = ";"

// CoercePush normalizes an outbound raw value to the field's declared
// remote wire type, truncating strings to the remote max length.
func CoercePush(v any, fm mapping.FieldMapping) (any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, toString(item))
		}
		v = strings.Join(parts, multiValueSeparator)
	}

	switch fm.RemoteFieldType {
	case mapping.TypeBoolean:
		return toBool(v)
	case mapping.TypeInt32, mapping.TypeInt64:
		return toInt(v)
	case mapping.TypeDouble, mapping.TypeDecimal:
		return toFloat(v)
	case mapping.TypeDateTimeOffset, mapping.TypeDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		if fm.RemoteFieldType == mapping.TypeDate {
			return t.UTC().Format("2006-01-02"), nil
		}
		return t.UTC().Format(time.RFC3339), nil
	default:
		s := toString(v)
		if fm.MaxLength > 0 && len(s) > fm.MaxLength {
			s = s[:fm.MaxLength]
		}
		return s, nil
	}
}

// CoercePull normalizes an inbound raw value into the local
// representation: times become time.Time, numerics and booleans native
// types, everything else a string.
func CoercePull(v any, fm mapping.FieldMapping) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch fm.RemoteFieldType {
	case mapping.TypeBoolean:
		return toBool(v)
	case mapping.TypeInt32, mapping.TypeInt64:
		return toInt(v)
	case mapping.TypeDouble, mapping.TypeDecimal:
		return toFloat(v)
	case mapping.TypeDateTimeOffset, mapping.TypeDate:
		return toTime(v)
	default:
		return toString(v), nil
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true, nil
		case "0", "false", "no", "n", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot coerce %q to boolean", t)
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("cannot coerce %T to boolean", v)
	}
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to integer: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to double: %w", t, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to double", v)
	}
}

// timeFormats are tried in order when parsing remote date strings.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a remote timestamp value. Numeric values are treated
// as Unix epoch seconds.
func ParseTime(v any) (time.Time, error) {
	return toTime(v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeFormats {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to time", v)
	}
}
