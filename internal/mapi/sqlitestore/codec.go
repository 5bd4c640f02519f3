package sqlitestore

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"groupcal/internal/mapi"
)

// Property values are stored as a JSON object of typed cells so that
// times and binaries survive the round trip:
//
//	{"subject":{"t":"s","v":"Standup"},"startdate":{"t":"time","v":"2025-03-03T09:00:00Z"}}
const (
	cellString  = "s"
	cellInt     = "i"
	cellFloat   = "f"
	cellBool    = "b"
	cellTime    = "time"
	cellBinary  = "bin"
	cellEntryID = "eid"
	cellStrings = "strs"
)

func encodeProps(p mapi.Props) (string, error) {
	doc := "{}"
	for name, v := range p {
		cell, err := encodeCell(v)
		if err != nil {
			return "", fmt.Errorf("property %s: %w", name, err)
		}
		doc, err = sjson.Set(doc, escapeKey(name), cell)
		if err != nil {
			return "", fmt.Errorf("property %s: %w", name, err)
		}
	}
	return doc, nil
}

func encodeCell(v any) (map[string]any, error) {
	cell := func(t string, v any) map[string]any { return map[string]any{"t": t, "v": v} }
	switch tv := v.(type) {
	case string:
		return cell(cellString, tv), nil
	case int:
		return cell(cellInt, int64(tv)), nil
	case int32:
		return cell(cellInt, int64(tv)), nil
	case int64:
		return cell(cellInt, tv), nil
	case uint32:
		return cell(cellInt, int64(tv)), nil
	case float64:
		return cell(cellFloat, tv), nil
	case bool:
		return cell(cellBool, tv), nil
	case time.Time:
		return cell(cellTime, tv.UTC().Format(time.RFC3339Nano)), nil
	case []byte:
		return cell(cellBinary, hex.EncodeToString(tv)), nil
	case mapi.EntryID:
		return cell(cellEntryID, tv.Hex()), nil
	case []string:
		return cell(cellStrings, tv), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func decodeProps(doc string) (mapi.Props, error) {
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("invalid property document")
	}
	out := mapi.Props{}
	var err error
	gjson.Parse(doc).ForEach(func(k, cell gjson.Result) bool {
		var v any
		if v, err = decodeCell(cell); err != nil {
			err = fmt.Errorf("property %s: %w", k.String(), err)
			return false
		}
		out[k.String()] = v
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeCell(cell gjson.Result) (any, error) {
	v := cell.Get("v")
	switch t := cell.Get("t").String(); t {
	case cellString:
		return v.String(), nil
	case cellInt:
		return v.Int(), nil
	case cellFloat:
		return v.Float(), nil
	case cellBool:
		return v.Bool(), nil
	case cellTime:
		return time.Parse(time.RFC3339Nano, v.String())
	case cellBinary:
		return hex.DecodeString(v.String())
	case cellEntryID:
		b, err := hex.DecodeString(v.String())
		return mapi.EntryID(b), err
	case cellStrings:
		var out []string
		for _, s := range v.Array() {
			out = append(out, s.String())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cell type %q", t)
	}
}

// escapeKey makes a property name safe to use as an sjson path.
func escapeKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
