package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"holding-cdc-parse/logger"
	"holding-cdc-parse/sink"
	"holding-cdc-parse/telemetry"
)

// Stream runs envelopes through the extractor and formatter and publishes
// every resulting line before the next envelope is handled.
type Stream struct {
	extractor *Extractor
	formatter *Formatter
	sink      sink.Sink
}

func NewStream(extractor *Extractor, formatter *Formatter, s sink.Sink) *Stream {
	return &Stream{
		extractor: extractor,
		formatter: formatter,
		sink:      s,
	}
}

// Run reads r line by line until EOF. A line that fails to decode stops the
// stream and its error is returned; nothing is written for that line.
func (s *Stream) Run(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read input: %w", readErr)
		}
		if len(line) == 0 && errors.Is(readErr, io.EOF) {
			return nil
		}
		lineNo++

		env, err := DecodeEnvelope(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := s.Emit(ctx, env); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		if readErr != nil {
			return nil
		}
	}
}

// Emit extracts, formats and publishes the records of one envelope.
func (s *Stream) Emit(ctx context.Context, env Envelope) error {
	telemetry.EnvelopesTotal.With(env.Op.String()).Inc()

	records := s.extractor.Extract(env)
	if len(records) == 0 {
		logger.Debug(ctx).Str("op", env.Op.String()).Msg("envelope produced no records")
		return nil
	}

	for _, rec := range records {
		if err := s.sink.Publish(ValueText(rec.HoldingID), s.formatter.Format(rec)); err != nil {
			return fmt.Errorf("publish record: %w", err)
		}
	}
	telemetry.RecordsTotal.With(env.Op.String()).Add(float64(len(records)))
	return nil
}
