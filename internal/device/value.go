package device

import (
	"strconv"
	"strings"
	"unicode"
)

// Kind enumerates the shapes a decoded value can take
type Kind uint8

const (
	KindNone Kind = iota
	KindText
	KindBool
	KindNumber
	KindList
)

// Value is a decoded field value.
type Value struct {
	kind  Kind
	text  string
	flag  bool
	num   float64
	nodes []Node
}

func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, flag: b}
}

func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

func List(nodes ...Node) Value {
	return Value{kind: KindList, nodes: nodes}
}

func (v Value) Kind() Kind {
	return v.kind
}

// IsZero reports whether the value is absent or renders as blank text
func (v Value) IsZero() bool {
	switch v.kind {
	case KindNone:
		return true
	case KindText:
		return strings.TrimSpace(v.text) == ""
	case KindList:
		return len(v.nodes) == 0
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// AsBool returns the boolean held by v. Text values "true"/"false" and
// numbers are accepted too.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.flag, true
	case KindNumber:
		return v.num != 0, true
	case KindText:
		b, err := strconv.ParseBool(strings.TrimSpace(v.text))
		return b, err == nil
	default:
		return false, false
	}
}

// AsFloat returns the numeric value held by v. Text such as "5.02V" or
// "-1.3 A" is parsed after dropping the unit suffix.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindText:
		s := strings.TrimRightFunc(strings.TrimSpace(v.text), func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsSpace(r)
		})
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Nodes returns the list elements of a list value
func (v Value) Nodes() []Node {
	if v.kind != KindList {
		return nil
	}

	return v.nodes
}
