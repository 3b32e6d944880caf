// Package sink delivers formatted change records to their destination.
// Every sink publishes synchronously, one record per call, so a record is
// visible downstream before the next input line is read.
package sink

import (
	"io"
	"sync"
)

// Sink is a destination for formatted change records.
type Sink interface {
	// Publish delivers one line. key is the record's holding id.
	Publish(key string, line []byte) error
	Close() error
}

type flusher interface {
	Flush() error
}

// WriterSink writes newline-terminated lines to an io.Writer, flushing
// after each line when the writer is buffered.
type WriterSink struct {
	w   io.Writer
	buf []byte
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Publish(_ string, line []byte) error {
	s.buf = append(append(s.buf[:0], line...), '\n')
	if _, err := s.w.Write(s.buf); err != nil {
		return err
	}
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func (s *WriterSink) Close() error {
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// MockSink records published lines for tests.
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

type MockMessage struct {
	Key   string
	Value []byte
}

func (m *MockSink) Publish(key string, line []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{
		Key:   key,
		Value: append([]byte(nil), line...),
	})
	return nil
}

func (m *MockSink) Close() error {
	return nil
}
