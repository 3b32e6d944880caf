package main

import (
	"time"
)

// DefaultTrackedFields are the holding columns whose changes are emitted.
var DefaultTrackedFields = []string{"holding_stock", "holding_quantity"}

const (
	columnHoldingID       = "holding_id"
	columnUserID          = "user_id"
	columnDatetimeCreated = "datetime_created"

	// literalUpdateColumn is the column name update lookups read in
	// LookupLiteral mode.
	literalUpdateColumn = "field"
)

// UpdateLookup selects how update records read their old and new values.
type UpdateLookup string

const (
	// LookupLiteral reads the column literally named "field" for every
	// tracked field. It keeps output identical to the existing consumers,
	// which almost always means None for both values.
	LookupLiteral UpdateLookup = "literal"
	// LookupKeyed reads the tracked field itself.
	LookupKeyed UpdateLookup = "keyed"
)

// Clock returns the current wall-clock time.
type Clock func() time.Time

// ChangeRecord is one tracked field's change extracted from an envelope.
type ChangeRecord struct {
	Op         Operation
	HoldingID  Value
	UserID     Value
	FieldName  string
	OldValue   Value
	NewValue   Value
	CreatedAt  Value
	SourceTsMs Value
	ProcessTs  time.Time
}

// Extractor turns envelopes into change records.
type Extractor struct {
	Fields       []string
	Clock        Clock
	UpdateLookup UpdateLookup
}

func NewExtractor(fields []string, clock Clock, lookup UpdateLookup) *Extractor {
	if clock == nil {
		clock = time.Now
	}
	if lookup == "" {
		lookup = LookupLiteral
	}
	return &Extractor{
		Fields:       fields,
		Clock:        clock,
		UpdateLookup: lookup,
	}
}

// Extract returns one record per tracked field in field order, or nil for
// an unknown operation. The clock is read once per envelope.
func (e *Extractor) Extract(env Envelope) []ChangeRecord {
	switch env.Op {
	case OpCreate:
		return e.extractCreate(env.After, e.now())
	case OpUpdate:
		return e.extractUpdate(env.Before, env.After, env.TsMs, e.now())
	case OpDelete:
		return e.extractDelete(env.Before, env.TsMs, e.now())
	}
	return nil
}

func (e *Extractor) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

func (e *Extractor) extractCreate(after Row, ts time.Time) []ChangeRecord {
	records := make([]ChangeRecord, 0, len(e.Fields))
	for _, field := range e.Fields {
		records = append(records, ChangeRecord{
			Op:        OpCreate,
			HoldingID: after[columnHoldingID],
			UserID:    after[columnUserID],
			FieldName: field,
			NewValue:  after[field],
			CreatedAt: after[columnDatetimeCreated],
			ProcessTs: ts,
		})
	}
	return records
}

func (e *Extractor) extractDelete(before Row, tsMs Value, ts time.Time) []ChangeRecord {
	records := make([]ChangeRecord, 0, len(e.Fields))
	for _, field := range e.Fields {
		records = append(records, ChangeRecord{
			Op:         OpDelete,
			HoldingID:  before[columnHoldingID],
			UserID:     before[columnUserID],
			FieldName:  field,
			OldValue:   before[field],
			SourceTsMs: tsMs,
			ProcessTs:  ts,
		})
	}
	return records
}

func (e *Extractor) extractUpdate(before, after Row, tsMs Value, ts time.Time) []ChangeRecord {
	records := make([]ChangeRecord, 0, len(e.Fields))
	for _, field := range e.Fields {
		column := field
		if e.UpdateLookup != LookupKeyed {
			column = literalUpdateColumn
		}
		records = append(records, ChangeRecord{
			Op:         OpUpdate,
			HoldingID:  after[columnHoldingID],
			UserID:     after[columnUserID],
			FieldName:  field,
			OldValue:   before[column],
			NewValue:   after[column],
			SourceTsMs: tsMs,
			ProcessTs:  ts,
		})
	}
	return records
}
