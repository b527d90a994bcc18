package defn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strconv"
)

// Params is an exported parameter tree. Leaves are strings, booleans, numbers,
// nil, lists and nested string-keyed maps.
type Params map[string]any

const exportClassKey = "__export_class__"

// ExportObject returns the exported tree of one object definition: its Params
// plus its kind and its RefMap.
func ExportObject(d ObjectDefn) (Params, error) {
	p := d.Params()
	out := make(Params, len(p)+2)
	for k, v := range p {
		if k == "kind" || k == "refs" {
			return nil, fmt.Errorf("%s: parameter key %q is reserved", d.Kind(), k)
		}
		out[k] = v
	}
	out["kind"] = d.Kind()
	refs := make(map[string]any, len(d.RefMap()))
	for k, v := range d.RefMap() {
		refs[k] = v
	}
	out["refs"] = refs
	return out, nil
}

func (p Params) clone() Params {
	return cloneValue(map[string]any(p)).(map[string]any)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Params:
		return cloneValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	default:
		return v
	}
}

// Identifier hashes the canonical encoding of p and formats the first eight
// digest bytes as two hyphen-separated groups of eight hex digits. Map keys
// are visited in sorted order and numbers are encoded by value, so 3, 3.0 and
// int64(3) hash alike and insertion order never matters.
func Identifier(p Params) string {
	h := sha256.New()
	writeCanonical(h, map[string]any(p))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:4]) + "-" + hex.EncodeToString(sum[4:8])
}

func writeCanonical(h hash.Hash, v any) {
	switch x := v.(type) {
	case nil:
		io.WriteString(h, "z;")
	case Params:
		writeCanonical(h, map[string]any(x))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h, "m%d;", len(keys))
		for _, k := range keys {
			writeString(h, k)
			writeCanonical(h, x[k])
		}
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = e
		}
		writeCanonical(h, m)
	case []any:
		fmt.Fprintf(h, "l%d;", len(x))
		for _, e := range x {
			writeCanonical(h, e)
		}
	case []string:
		fmt.Fprintf(h, "l%d;", len(x))
		for _, e := range x {
			writeString(h, e)
		}
	case []float64:
		fmt.Fprintf(h, "l%d;", len(x))
		for _, e := range x {
			writeNumber(h, e)
		}
	case string:
		writeString(h, x)
	case bool:
		if x {
			io.WriteString(h, "b1;")
		} else {
			io.WriteString(h, "b0;")
		}
	case float64:
		writeNumber(h, x)
	case float32:
		writeNumber(h, float64(x))
	case int:
		writeNumber(h, float64(x))
	case int64:
		writeNumber(h, float64(x))
	case int32:
		writeNumber(h, float64(x))
	case uint64:
		writeNumber(h, float64(x))
	default:
		fmt.Fprintf(h, "?%T:%v;", x, x)
	}
}

func writeString(h hash.Hash, s string) {
	fmt.Fprintf(h, "s%d:%s", len(s), s)
}

func writeNumber(h hash.Hash, f float64) {
	io.WriteString(h, "n"+strconv.FormatFloat(f, 'g', -1, 64)+";")
}
