package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope keys are matched exactly; encoding/json would fold case when
// decoding into a struct.
const (
	keyPayload = "payload"
	keyOp      = "op"
	keyBefore  = "before"
	keyAfter   = "after"
	keyTsMs    = "ts_ms"
)

// DecodeEnvelope parses one input line. Only a line that is not a single
// JSON object fails; anything missing below the top level decodes as empty.
func DecodeEnvelope(line []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(line))

	var top json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: trailing data after document", ErrMalformedEnvelope)
	}
	if !isObject(top) {
		return Envelope{}, fmt.Errorf("%w: top level is not an object", ErrMalformedEnvelope)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(top, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	payload := map[string]json.RawMessage{}
	if raw := env[keyPayload]; isObject(raw) {
		// values are all raw, so this cannot fail on a valid object
		_ = json.Unmarshal(raw, &payload)
	}

	var tag string
	if err := json.Unmarshal(payload[keyOp], &tag); err != nil {
		tag = ""
	}

	out := Envelope{
		Op:     parseOperation(tag),
		Before: decodeRow(payload[keyBefore]),
		After:  decodeRow(payload[keyAfter]),
	}
	if ts := payload[keyTsMs]; !isNull(ts) {
		out.TsMs = ts
	}
	return out, nil
}

func decodeRow(raw json.RawMessage) Row {
	row := Row{}
	if !isObject(raw) {
		return row
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return Row{}
	}
	return row
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
