package main

import (
	"bytes"
	"encoding/json"
)

// Operation is the CDC operation tag carried in payload.op.
type Operation string

const (
	OpCreate  Operation = "c"
	OpUpdate  Operation = "u"
	OpDelete  Operation = "d"
	OpUnknown Operation = ""
)

func parseOperation(tag string) Operation {
	switch op := Operation(tag); op {
	case OpCreate, OpUpdate, OpDelete:
		return op
	}
	return OpUnknown
}

// String returns the label used in logs and metrics.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Value is a raw JSON value. nil and JSON null both mean unset.
type Value = json.RawMessage

func isNull(v Value) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Row maps column names to raw JSON values. A missing column reads as nil.
type Row map[string]Value

// Envelope is one decoded CDC event.
type Envelope struct {
	Op     Operation
	Before Row
	After  Row
	TsMs   Value
}
