package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"holding-cdc-parse/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	createLine = `{"payload":{"op":"c","after":{"holding_id":1,"user_id":9,"holding_stock":"AAPL","holding_quantity":5,"datetime_created":"2024-01-01T00:00:00"}}}`
	deleteLine = `{"payload":{"op":"d","before":{"holding_id":1,"user_id":9,"holding_stock":"AAPL","holding_quantity":5},"ts_ms":1700000000000}}`
	unknownOp  = `{"payload":{"op":"x"}}`
)

func newTestStream(out sink.Sink) *Stream {
	return NewStream(
		NewExtractor(DefaultTrackedFields, frozenClock, LookupLiteral),
		NewFormatter(ShapeCompat),
		out,
	)
}

func runStream(t *testing.T, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newTestStream(sink.NewWriterSink(&out)).Run(context.Background(), strings.NewReader(input))
	return out.String(), err
}

func TestStreamCreate(t *testing.T) {
	out, err := runStream(t, createLine+"\n")
	require.NoError(t, err)

	assert.Equal(t,
		"1,9,holding_stock,None,AAPL,2024-01-01T00:00:00,None,None,1700000100.25\n"+
			"1,9,holding_quantity,None,5,2024-01-01T00:00:00,None,None,1700000100.25\n",
		out)
}

func TestStreamDelete(t *testing.T) {
	out, err := runStream(t, deleteLine+"\n")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "1700000000000")
		assert.Len(t, strings.Split(line, ","), 8)
	}
	assert.Equal(t, "1,9,holding_stock,AAPL,None,None,1700000000000,1700000100.25", lines[0])
	assert.Equal(t, "1,9,holding_quantity,5,None,None,1700000000000,1700000100.25", lines[1])
}

func TestStreamUnknownOperationWritesNothing(t *testing.T) {
	out, err := runStream(t, unknownOp+"\n")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStreamLineCountAndOrder(t *testing.T) {
	input := strings.Join([]string{createLine, unknownOp, deleteLine, updateLine, createLine}, "\n")
	out, err := runStream(t, input)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4*len(DefaultTrackedFields))

	assert.True(t, strings.HasPrefix(lines[0], "1,9,holding_stock,None,AAPL"))
	assert.True(t, strings.HasPrefix(lines[2], "1,9,holding_stock,AAPL,None"))
	assert.True(t, strings.HasPrefix(lines[4], "2,10,holding_stock,None,None"))
	assert.True(t, strings.HasPrefix(lines[7], "1,9,holding_quantity,None,5"))
}

func TestStreamFinalLineWithoutNewline(t *testing.T) {
	out, err := runStream(t, createLine)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestStreamIsIdempotentWithFrozenClock(t *testing.T) {
	input := strings.Join([]string{createLine, deleteLine, updateLine}, "\n") + "\n"

	first, err := runStream(t, input)
	require.NoError(t, err)
	second, err := runStream(t, input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStreamMalformedLineIsFatal(t *testing.T) {
	out, err := runStream(t, createLine+"\nnot-json\n"+deleteLine+"\n")

	require.ErrorIs(t, err, ErrMalformedEnvelope)
	assert.Contains(t, err.Error(), "line 2")
	// only the first envelope made it out
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.NotContains(t, out, "1700000000000")
}

func TestStreamEmptyInput(t *testing.T) {
	out, err := runStream(t, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStreamPublishesEachRecordWithKey(t *testing.T) {
	mock := &sink.MockSink{}
	err := newTestStream(mock).Run(context.Background(), strings.NewReader(createLine+"\n"+deleteLine+"\n"))
	require.NoError(t, err)

	require.Len(t, mock.Messages, 4)
	for _, msg := range mock.Messages {
		assert.Equal(t, "1", msg.Key)
	}
}

func TestStreamSinkErrorIsFatal(t *testing.T) {
	boom := errors.New("broker down")
	mock := &sink.MockSink{PublishErr: boom}

	err := newTestStream(mock).Run(context.Background(), strings.NewReader(createLine+"\n"))
	assert.ErrorIs(t, err, boom)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestStreamReadError(t *testing.T) {
	err := newTestStream(&sink.MockSink{}).Run(context.Background(), failingReader{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &sink.MockSink{}
	err := newTestStream(mock).Run(ctx, strings.NewReader(createLine+"\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.Messages)
}

func TestEmitEnvelopeFromReplication(t *testing.T) {
	mock := &sink.MockSink{}
	s := newTestStream(mock)

	env := Envelope{
		Op:    OpCreate,
		After: Row{"holding_id": Value("3"), "user_id": Value("4"), "holding_stock": Value(`"TSLA"`)},
		TsMs:  Value("1700000000000"),
	}
	require.NoError(t, s.Emit(context.Background(), env))

	require.Len(t, mock.Messages, 2)
	assert.Equal(t, "3,4,holding_stock,None,TSLA,None,None,None,1700000100.25", string(mock.Messages[0].Value))
	assert.Equal(t, "3,4,holding_quantity,None,None,None,None,None,1700000100.25", string(mock.Messages[1].Value))
}
