package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tags the representation held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindInt            // integers, addresses and nil (address 0)
	KindReal
	KindBool
	KindChar
	KindString
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindInt:       "int",
	KindReal:      "real",
	KindBool:      "bool",
	KindChar:      "char",
	KindString:    "string",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is one machine word: a constant pool entry, a typed constant or a
// cell of the data store.
type Value struct {
	Kind Kind    `cbor:"k"`
	I    int64   `cbor:"i,omitempty"`
	F    float64 `cbor:"f,omitempty"`
	S    string  `cbor:"s,omitempty"`
}

// Undefined marks popped stack cells so stale reads are recognisable.
var Undefined = Value{}

// Nil is the nil pointer.
var Nil = Value{Kind: KindInt}

// Int returns an integer word.
func Int(i int) Value {
	return Value{Kind: KindInt, I: int64(i)}
}

func Int64(i int64) Value {
	return Value{Kind: KindInt, I: i}
}

func Real(f float64) Value {
	return Value{Kind: KindReal, F: f}
}

func String(s string) Value {
	return Value{Kind: KindString, S: s}
}

func Char(r rune) Value {
	return Value{Kind: KindChar, I: int64(r)}
}

// Address returns a pointer word. Addresses are plain integers.
func Address(a int) Value {
	return Int(a)
}

func Bool(b bool) Value {
	if b {
		return Value{Kind: KindBool, I: 1}
	}
	return Value{Kind: KindBool}
}

// AsInt returns the value as an integer. Reals are truncated.
func (v Value) AsInt() int {
	if v.Kind == KindReal {
		return int(v.F)
	}
	return int(v.I)
}

// AsReal returns the value widened to a real.
func (v Value) AsReal() float64 {
	if v.Kind == KindReal {
		return v.F
	}
	return float64(v.I)
}

// IsReal reports whether the word holds a real.
func (v Value) IsReal() bool {
	return v.Kind == KindReal
}

// Truthy reports the boolean interpretation used by jumps and logical ops.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindReal:
		return v.F != 0
	case KindString:
		return v.S != ""
	default:
		return v.I != 0
	}
}

// Equal reports value equality. Int, Char and Bool compare numerically with
// each other; a Real compares numerically with any number. A Char equals the
// String holding just that character.
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0 && v.comparable(o)
}

// comparable rejects a string against anything but a string or a char.
func (v Value) comparable(o Value) bool {
	switch {
	case v.Kind == KindString:
		return o.Kind == KindString || o.Kind == KindChar
	case o.Kind == KindString:
		return v.Kind == KindChar
	}
	return true
}

// text is the string a word compares as against a string: the one-rune
// string of a char, the payload of a string.
func (v Value) text() string {
	if v.Kind == KindChar {
		return string(rune(v.I))
	}
	return v.S
}

// Compare orders two words: negative if v < o, zero if equal, positive if
// v > o. Strings compare lexically, with a char standing for its one-rune
// string; everything else numerically.
func (v Value) Compare(o Value) int {
	if v.Kind == KindString || o.Kind == KindString {
		a, b := v.text(), o.text()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	if v.Kind == KindReal || o.Kind == KindReal {
		a, b := v.AsReal(), o.AsReal()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch {
	case v.I < o.I:
		return -1
	case v.I > o.I:
		return 1
	}
	return 0
}

// Same reports identity for constant pool interning: same kind and same
// payload.
func (v Value) Same(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindReal {
		return v.F == o.F || (math.IsNaN(v.F) && math.IsNaN(o.F))
	}
	return v.I == o.I && v.S == o.S
}

// String renders the value the way WriteLn prints it.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindReal:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		if v.I != 0 {
			return "TRUE"
		}
		return "FALSE"
	case KindChar:
		return string(rune(v.I))
	case KindString:
		return v.S
	default:
		return "undefined"
	}
}

// Quoted renders the value for listings: strings and chars are quoted.
func (v Value) Quoted() string {
	switch v.Kind {
	case KindString, KindChar:
		return "'" + v.String() + "'"
	}
	return v.String()
}
