// Package legacy is the only code that knows the old document layout,
// where the same field appears as camelCase in some documents and
// snake_case in others. It rewrites exported documents onto the
// canonical snake_case schema and decodes them into model types.
package legacy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Collection names of the export.
const (
	Users        = "users"
	Lots         = "parking_lots"
	Spots        = "parking_spots"
	Reservations = "reservations"
	Sessions     = "parking_sessions"
	Vehicles     = "vehicles"
)

// idKeys is the canonical id field of each collection.
var idKeys = map[string]string{
	Users:        "user_id",
	Lots:         "lot_id",
	Spots:        "spot_id",
	Reservations: "reservation_id",
	Sessions:     "session_id",
	Vehicles:     "vehicle_id",
}

// renames covers aliases that are not a plain camelCase spelling of the
// canonical name.
var renames = map[string]map[string]string{
	Spots: {
		"code":             "spot_code",
		"currentSessionId": "occupied_by_session_id",
		"currentSessionID": "occupied_by_session_id",
		"carLabel":         "current_car_label",
		"reservedBy":       "reserved_by_user_id",
	},
	Reservations: {
		"reservedFrom":  "reserve_start",
		"reservedUntil": "reserve_end",
	},
	Sessions: {
		"entryTime":   "entered_at",
		"exitTime":    "exited_at",
		"completedAt": "paid_at",
	},
	Lots: {
		"lotName": "name",
	},
	Users: {
		"displayName": "name",
		"fullName":    "name",
	},
}

// timeKeys lists canonical fields holding timestamps besides *_at.
var timeKeys = map[string]bool{
	"reserve_start": true,
	"reserve_end":   true,
}

// Normalize returns doc with every key on its canonical name and every
// timestamp as RFC 3339 text. When both spellings of a field are present
// the snake_case value wins. The document id may be given as "_id", "id"
// or the canonical id key.
func Normalize(collection string, doc map[string]any) (map[string]any, error) {
	idKey, ok := idKeys[collection]
	if !ok {
		return nil, fmt.Errorf("legacy: unknown collection %q", collection)
	}
	out := make(map[string]any, len(doc))
	aliased := make(map[string]any)
	for k, v := range doc {
		canon := canonicalKey(collection, idKey, k)
		if canon == k || k == "_id" || k == "id" {
			out[canon] = v
			continue
		}
		aliased[canon] = v
	}
	for k, v := range aliased {
		if cur, ok := out[k]; !ok || cur == nil {
			out[k] = v
		}
	}
	for k, v := range out {
		if !strings.HasSuffix(k, "_at") && !timeKeys[k] {
			continue
		}
		ts, err := timestamp(v)
		if err != nil {
			return nil, fmt.Errorf("legacy: %s.%s: %w", collection, k, err)
		}
		out[k] = ts
	}
	if id, _ := out[idKey].(string); id == "" {
		return nil, fmt.Errorf("legacy: %s document without id", collection)
	}
	return out, nil
}

func canonicalKey(collection, idKey, k string) string {
	if k == "_id" || k == "id" {
		return idKey
	}
	if r, ok := renames[collection][k]; ok {
		return r
	}
	return snake(k)
}

// snake converts lowerCamel to lower_snake. Keys that are already snake
// case come back unchanged.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && !unicode.IsUpper(rune(s[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timestamp accepts RFC 3339 text, epoch milliseconds and the
// {"_seconds", "_nanoseconds"} object exported for native timestamps.
func timestamp(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, err
		}
		return parsed.UTC().Format(time.RFC3339Nano), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		sec, ok1 := number(t["_seconds"], t["seconds"])
		nsec, _ := number(t["_nanoseconds"], t["nanoseconds"])
		if !ok1 {
			return nil, fmt.Errorf("unrecognised timestamp object")
		}
		return time.Unix(int64(sec), int64(nsec)).UTC().Format(time.RFC3339Nano), nil
	}
	return nil, fmt.Errorf("unsupported timestamp %T", v)
}

func number(vals ...any) (float64, bool) {
	for _, v := range vals {
		switch n := v.(type) {
		case float64:
			return n, true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		}
	}
	return 0, false
}
