package view

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Key is a composite view key. Elements are JSON-compatible values.
type Key []any

// High sorts after every scalar and array, like {} in a CouchDB range.
var High = map[string]any{}

// Type tags in collation order. 0x00 terminates arrays and objects.
const (
	tagEnd    = 0x00
	tagNull   = 0x01
	tagFalse  = 0x02
	tagTrue   = 0x03
	tagNumber = 0x04
	tagString = 0x05
	tagArray  = 0x06
	tagObject = 0x07
)

// SortKey encodes k into an order-preserving hex string: for any two keys,
// comparing their sort keys bytewise gives the view collation order
// (null < false < true < numbers < strings < arrays < objects).
func SortKey(k Key) (string, error) {
	buf, err := appendValue(nil, []any(k))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNull), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case float64:
		return appendNumber(buf, x), nil
	case float32:
		return appendNumber(buf, float64(x)), nil
	case int:
		return appendNumber(buf, float64(x)), nil
	case int64:
		return appendNumber(buf, float64(x)), nil
	case int32:
		return appendNumber(buf, float64(x)), nil
	case uint64:
		return appendNumber(buf, float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("collate number %q: %w", x, err)
		}
		return appendNumber(buf, f), nil
	case string:
		return appendString(append(buf, tagString), x), nil
	case Key:
		return appendArray(buf, []any(x))
	case []any:
		return appendArray(buf, x)
	case []string:
		arr := make([]any, len(x))
		for i, s := range x {
			arr[i] = s
		}
		return appendArray(buf, arr)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, tagObject)
		for _, k := range keys {
			buf = appendString(buf, k)
			var err error
			if buf, err = appendValue(buf, x[k]); err != nil {
				return nil, err
			}
		}
		return append(buf, tagEnd), nil
	default:
		// Round-trip anything else through JSON.
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("collate %T: %w", v, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("collate %T: %w", v, err)
		}
		return appendValue(buf, generic)
	}
}

func appendArray(buf []byte, arr []any) ([]byte, error) {
	buf = append(buf, tagArray)
	for _, e := range arr {
		var err error
		if buf, err = appendValue(buf, e); err != nil {
			return nil, err
		}
	}
	return append(buf, tagEnd), nil
}

func appendNumber(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // fold -0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf = append(buf, tagNumber)
	return binary.BigEndian.AppendUint64(buf, bits)
}

// Strings are escaped so that 0x00 never appears unescaped; the terminator
// 0x00 0x01 sorts below any continuation byte.
func appendString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0xff)
			continue
		}
		buf = append(buf, s[i])
	}
	return append(buf, 0x00, 0x01)
}

// Compare orders two keys by collation.
func Compare(a, b Key) int {
	sa, errA := SortKey(a)
	sb, errB := SortKey(b)
	if errA != nil || errB != nil {
		return 0
	}
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}
