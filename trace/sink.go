// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package trace

import (
	"bufio"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Sink receives events from the tracer's drain goroutine. Write is never
// called concurrently. A failed write drops that event.
type Sink interface {
	Write(ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event) error

// Write calls f.
func (f SinkFunc) Write(ev Event) error { return f(ev) }

// LogSink writes each event as a structured log line.
type LogSink struct {
	Log   logrus.FieldLogger
	Level logrus.Level
}

// NewLogSink returns a sink logging at debug level.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{Log: log, Level: logrus.DebugLevel}
}

// Write logs ev.
func (s *LogSink) Write(ev Event) error {
	fields := logrus.Fields{
		"seq":   ev.Seq,
		"kind":  ev.Kind.String(),
		"layer": ev.Layer,
		"slot":  ev.Slot,
		"frame": ev.FrameNumber,
		"ts":    ev.Timestamp,
	}
	if ev.BufferID != uuid.Nil {
		fields["buffer"] = ev.BufferID.String()
	}
	if ev.Fence {
		fields["fence_time"] = ev.FenceTime
	}
	if len(ev.Durations) > 0 {
		fields["durations"] = ev.Durations
	}
	entry := s.Log.WithFields(fields)
	switch s.Level {
	case logrus.TraceLevel:
		entry.Trace("trace")
	case logrus.InfoLevel:
		entry.Info("trace")
	default:
		entry.Debug("trace")
	}
	return nil
}

// MsgpackSink encodes events as a stream of msgpack maps.
type MsgpackSink struct {
	w   *bufio.Writer
	enc *msgpack.Encoder
	c   io.Closer
}

// NewMsgpackSink writes to w. If w is an io.Closer it is closed by Close.
func NewMsgpackSink(w io.Writer) *MsgpackSink {
	bw := bufio.NewWriter(w)
	s := &MsgpackSink{w: bw, enc: msgpack.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

// Write encodes ev.
func (s *MsgpackSink) Write(ev Event) error {
	return s.enc.Encode(&ev)
}

// Flush writes buffered events through.
func (s *MsgpackSink) Flush() error {
	return s.w.Flush()
}

// Close flushes and closes the underlying writer.
func (s *MsgpackSink) Close() error {
	err := s.w.Flush()
	if s.c != nil {
		if cerr := s.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadEvents decodes every event of a msgpack stream written by
// MsgpackSink.
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var out []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, ev)
	}
}
