package partition

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

// Type tags of the canonical value encoding. Nil and an empty collection get
// different tags so they never hash alike.
const (
	tagNil    = 0x00
	tagString = 0x01
	tagInt    = 0x02
	tagUint   = 0x03
	tagFloat  = 0x04
	tagBool   = 0x05
	tagTime   = 0x06
	tagBytes  = 0x07
	tagList   = 0x08
	tagMap    = 0x09
	tagOther  = 0x0f
)

// appendValue appends the canonical encoding of v to buf.
func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil)
	case string:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...)
	case []byte:
		if x == nil {
			return append(buf, tagNil)
		}
		buf = append(buf, tagBytes)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...)
	case bool:
		if x {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case int:
		return binary.AppendVarint(append(buf, tagInt), int64(x))
	case int8:
		return binary.AppendVarint(append(buf, tagInt), int64(x))
	case int16:
		return binary.AppendVarint(append(buf, tagInt), int64(x))
	case int32:
		return binary.AppendVarint(append(buf, tagInt), int64(x))
	case int64:
		return binary.AppendVarint(append(buf, tagInt), x)
	case uint:
		return binary.AppendUvarint(append(buf, tagUint), uint64(x))
	case uint8:
		return binary.AppendUvarint(append(buf, tagUint), uint64(x))
	case uint16:
		return binary.AppendUvarint(append(buf, tagUint), uint64(x))
	case uint32:
		return binary.AppendUvarint(append(buf, tagUint), uint64(x))
	case uint64:
		return binary.AppendUvarint(append(buf, tagUint), x)
	case float32:
		return binary.BigEndian.AppendUint64(append(buf, tagFloat), math.Float64bits(float64(x)))
	case float64:
		return binary.BigEndian.AppendUint64(append(buf, tagFloat), math.Float64bits(x))
	case time.Time:
		buf = append(buf, tagTime)
		return binary.AppendVarint(buf, x.UnixNano())
	case []any:
		if x == nil {
			return append(buf, tagNil)
		}
		buf = append(buf, tagList)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		for _, e := range x {
			buf = appendValue(buf, e)
		}
		return buf
	case map[string]any:
		if x == nil {
			return append(buf, tagNil)
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, tagMap)
		buf = binary.AppendUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			buf = appendValue(buf, k)
			buf = appendValue(buf, x[k])
		}
		return buf
	}

	// Typed nils (e.g. a nil *string from a driver) encode as nil.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return append(buf, tagNil)
	}
	s := fmt.Sprintf("%T:%v", v, v)
	buf = append(buf, tagOther)
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// encodeRow appends the canonical encoding of every value of row.
func encodeRow(buf []byte, row []any) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(row)))
	for _, v := range row {
		buf = appendValue(buf, v)
	}
	return buf
}
