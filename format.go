package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	delimiter = ","
	noneText  = "None"
)

// Shape selects the positional layout of an output line.
type Shape string

const (
	// ShapeCompat keeps the layouts downstream consumers already parse:
	// create and update lines carry an extra None column before process_ts,
	// delete lines do not.
	ShapeCompat Shape = "compat"
	// ShapeNormalized writes the same eight columns for every operation.
	ShapeNormalized Shape = "normalized"
)

// Formatter renders change records as delimited lines. Values are not
// quoted or escaped, so a value containing the delimiter shifts columns.
type Formatter struct {
	Shape Shape
}

func NewFormatter(shape Shape) *Formatter {
	if shape == "" {
		shape = ShapeCompat
	}
	return &Formatter{Shape: shape}
}

// Format returns rec as a single line without a trailing newline.
func (f *Formatter) Format(rec ChangeRecord) []byte {
	cols := make([]string, 0, 9)
	cols = append(cols,
		ValueText(rec.HoldingID),
		ValueText(rec.UserID),
		rec.FieldName,
		ValueText(rec.OldValue),
		ValueText(rec.NewValue),
		ValueText(rec.CreatedAt),
		ValueText(rec.SourceTsMs),
	)
	if f.Shape != ShapeNormalized && rec.Op != OpDelete {
		cols = append(cols, noneText)
	}
	cols = append(cols, timestampText(rec.ProcessTs))
	return []byte(strings.Join(cols, delimiter))
}

func timestampText(ts time.Time) string {
	return floatText(float64(ts.Unix()) + float64(ts.Nanosecond())/1e9)
}

// ValueText renders a raw JSON value as plain text: strings unquoted,
// null as None, booleans as True/False, containers as literals.
func ValueText(v Value) string {
	if isNull(v) {
		return noneText
	}
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()

	var b strings.Builder
	if err := writeValue(&b, dec, false); err != nil {
		return string(v)
	}
	return b.String()
}

func writeValue(b *strings.Builder, dec *json.Decoder, nested bool) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			b.WriteByte('{')
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				key, err := dec.Token()
				if err != nil {
					return err
				}
				k, ok := key.(string)
				if !ok {
					return fmt.Errorf("unexpected object key %v", key)
				}
				b.WriteString(quoteText(k))
				b.WriteString(": ")
				if err := writeValue(b, dec, true); err != nil {
					return err
				}
			}
			b.WriteByte('}')
		case '[':
			b.WriteByte('[')
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				if err := writeValue(b, dec, true); err != nil {
					return err
				}
			}
			b.WriteByte(']')
		}
		// closing delimiter
		if _, err := dec.Token(); err != nil {
			return err
		}
	case string:
		if nested {
			b.WriteString(quoteText(t))
		} else {
			b.WriteString(t)
		}
	case json.Number:
		b.WriteString(numberText(string(t)))
	case bool:
		if t {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case nil:
		b.WriteString(noneText)
	}
	return nil
}

func numberText(n string) string {
	if !strings.ContainsAny(n, ".eE") {
		if i, ok := new(big.Int).SetString(n, 10); ok {
			return i.String()
		}
		return n
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil && !math.IsInf(f, 0) {
		return n
	}
	return floatText(f)
}

// floatText formats f as the shortest round-trip decimal, keeping a ".0"
// on integral values and switching to exponent form outside [1e-4, 1e16).
func floatText(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if f != 0 && (exp < -4 || exp >= 16) {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func quoteText(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}

	var b strings.Builder
	b.WriteByte(quote)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case unicode.IsPrint(r):
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
