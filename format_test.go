package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCompatShapes(t *testing.T) {
	f := NewFormatter(ShapeCompat)
	ts := time.Unix(1700000100, 250000000)

	tests := []struct {
		name string
		rec  ChangeRecord
		want string
	}{
		{
			name: "create",
			rec: ChangeRecord{
				Op: OpCreate, HoldingID: Value("1"), UserID: Value("9"), FieldName: "holding_stock",
				NewValue: Value(`"AAPL"`), CreatedAt: Value(`"2024-01-01T00:00:00"`), ProcessTs: ts,
			},
			want: "1,9,holding_stock,None,AAPL,2024-01-01T00:00:00,None,None,1700000100.25",
		},
		{
			name: "update",
			rec: ChangeRecord{
				Op: OpUpdate, HoldingID: Value("2"), UserID: Value("10"), FieldName: "holding_quantity",
				SourceTsMs: Value("1700000000001"), ProcessTs: ts,
			},
			want: "2,10,holding_quantity,None,None,None,1700000000001,None,1700000100.25",
		},
		{
			name: "delete",
			rec: ChangeRecord{
				Op: OpDelete, HoldingID: Value("1"), UserID: Value("9"), FieldName: "holding_quantity",
				OldValue: Value("5"), SourceTsMs: Value("1700000000000"), ProcessTs: ts,
			},
			want: "1,9,holding_quantity,5,None,None,1700000000000,1700000100.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(f.Format(tt.rec)))
		})
	}
}

func TestFormatNormalizedShape(t *testing.T) {
	f := NewFormatter(ShapeNormalized)
	ts := time.Unix(1700000100, 0)

	create := ChangeRecord{Op: OpCreate, HoldingID: Value("1"), UserID: Value("9"), FieldName: "holding_stock", NewValue: Value(`"AAPL"`), ProcessTs: ts}
	del := ChangeRecord{Op: OpDelete, HoldingID: Value("1"), UserID: Value("9"), FieldName: "holding_stock", OldValue: Value(`"AAPL"`), ProcessTs: ts}

	assert.Equal(t, "1,9,holding_stock,None,AAPL,None,None,1700000100.0", string(f.Format(create)))
	assert.Equal(t, "1,9,holding_stock,AAPL,None,None,None,1700000100.0", string(f.Format(del)))
}

func TestNewFormatterDefaultsToCompat(t *testing.T) {
	assert.Equal(t, ShapeCompat, NewFormatter("").Shape)
}

func TestFormatDoesNotEscapeDelimiter(t *testing.T) {
	f := NewFormatter(ShapeCompat)
	rec := ChangeRecord{Op: OpCreate, FieldName: "holding_stock", NewValue: Value(`"A,B"`), ProcessTs: time.Unix(1, 0)}
	assert.Equal(t, "None,None,holding_stock,None,A,B,None,None,None,1.0", string(f.Format(rec)))
}

func TestValueText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "None"},
		{"null", "None"},
		{`"AAPL"`, "AAPL"},
		{`"café"`, "café"},
		{`""`, ""},
		{"5", "5"},
		{"-0", "0"},
		{"12345678901234567890", "12345678901234567890"},
		{"5.0", "5.0"},
		{"1.5", "1.5"},
		{"-0.0", "-0.0"},
		{"1e3", "1000.0"},
		{"1E-5", "1e-05"},
		{"0.0001", "0.0001"},
		{"1e16", "1e+16"},
		{"1e15", "1000000000000000.0"},
		{"123456789.123456789", "123456789.12345679"},
		{"1e400", "inf"},
		{"true", "True"},
		{"false", "False"},
		{`{"a":1,"b":[true,null,"x"]}`, "{'a': 1, 'b': [True, None, 'x']}"},
		{`{"z":1,"a":2}`, "{'z': 1, 'a': 2}"},
		{`[]`, "[]"},
		{`{}`, "{}"},
		{`["it's"]`, `["it's"]`},
		{`["a\"b'c"]`, `['a"b\'c']`},
		{`["tab\there"]`, `['tab\there']`},
		{`[1.0, {"k": "v"}]`, "[1.0, {'k': 'v'}]"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v Value
			if tt.raw != "" {
				v = Value(tt.raw)
			}
			assert.Equal(t, tt.want, ValueText(v))
		})
	}
}

func TestTimestampText(t *testing.T) {
	assert.Equal(t, "1700000000.5", timestampText(time.Unix(1700000000, 500000000)))
	assert.Equal(t, "1700000000.0", timestampText(time.Unix(1700000000, 0)))
}
