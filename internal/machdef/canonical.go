package machdef

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical renders the definition as RFC 8785-style canonical
// JSON: object keys sorted by UTF-16 code units, strings NFC normalized,
// no HTML escaping, no floats, no null. This is the only serialization
// the identity hash may consume.
func (d *Definition) MarshalCanonical() ([]byte, error) {
	return marshalCanonical(d.canonicalValue())
}

// canonicalValue lowers the definition to plain maps and scalars with
// every default materialized, so spelling variants of the same machine
// ("top" for "length", an omitted mode) produce identical bytes.
func (d *Definition) canonicalValue() map[string]any {
	obj := map[string]any{
		"name":  d.Name,
		"codec": d.Codec,
		"mode":  d.Mode,
		"policy": map[string]any{
			"unaligned": d.Policy.Unaligned,
			"typeCheck": d.Policy.TypeCheck,
		},
		"memory": map[string]any{
			"pageSize": d.Memory.PageSize,
		},
	}

	regs := map[string]any{}
	if d.Registers.DDC != nil {
		regs["ddc"] = d.Registers.DDC.canonicalValue()
	}
	if d.Registers.PCC != nil {
		regs["pcc"] = d.Registers.PCC.canonicalValue()
	}
	if len(d.Registers.GPR) > 0 {
		gpr := map[string]any{}
		for n, spec := range d.Registers.GPR {
			gpr[strconv.Itoa(n)] = spec.canonicalValue()
		}
		regs["gpr"] = gpr
	}
	if len(regs) > 0 {
		obj["registers"] = regs
	}
	return obj
}

func (r RegisterSpec) canonicalValue() map[string]any {
	return map[string]any{
		"base":   r.Base,
		"length": r.Length,
		"offset": r.Offset,
		"perms":  uint64(r.Perms),
		"uperms": uint64(r.UPerms),
		"otype":  uint64(r.OType),
		"tag":    r.Tag,
	}
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case map[string]any:
		return marshalCanonicalObject(val)
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString escapes per RFC 8785: only the quote, the
// backslash and the C0 controls are escaped (with the short forms where
// JSON defines them); everything else passes through as UTF-8. HTML
// metacharacters and U+2028/U+2029 stay literal. The string is NFC
// normalized first.
func marshalCanonicalString(s string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range norm.NFC.String(s) {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return buf.Bytes()
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(marshalCanonicalString(k))
		buf.WriteByte(':')
		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compareKeysRFC8785 orders strings by UTF-16 code units as RFC 8785
// requires. Go's native string order is UTF-8 bytes, which disagrees
// once keys leave the basic multilingual plane.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := len(a16)
	if len(b16) < n {
		n = len(b16)
	}
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
