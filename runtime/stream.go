package runtime

import (
	"io"
	"strings"
	"sync"
)

// valueSink receives rendered output. WriteString carries finished text;
// WriteValue carries raw expression results in native-types mode.
type valueSink interface {
	WriteString(s string) error
	WriteValue(v any) error
}

// writerSink adapts an io.Writer.
type writerSink struct {
	w io.Writer
}

func (s *writerSink) WriteString(text string) error {
	_, err := io.WriteString(s.w, text)
	return err
}

func (s *writerSink) WriteValue(v any) error {
	return s.WriteString(str(v))
}

// discardSink swallows output; used for extended-template preambles and
// imports.
type discardSink struct{}

func (discardSink) WriteString(string) error { return nil }
func (discardSink) WriteValue(any) error     { return nil }

// stringSink collects output in memory.
type stringSink struct {
	b strings.Builder
}

func (s *stringSink) WriteString(text string) error {
	s.b.WriteString(text)
	return nil
}

func (s *stringSink) WriteValue(v any) error {
	s.b.WriteString(str(v))
	return nil
}

type streamChunk struct {
	text string
	err  error
}

// Stream yields rendered fragments in source order. Rendering starts on the
// first consuming call, so EnableBuffering can still be configured after
// Template.Stream returns.
type Stream struct {
	ch      chan streamChunk
	start   func(*streamSink)
	once    sync.Once
	bufSize int
}

func newStream() *Stream {
	return &Stream{ch: make(chan streamChunk, 1)}
}

// EnableBuffering coalesces chunks up to size bytes before delivery. It
// must be called before the first Next/Collect/WriteTo.
func (s *Stream) EnableBuffering(size int) {
	if size > 0 {
		s.bufSize = size
	}
}

func (s *Stream) launch() {
	s.once.Do(func() {
		sink := &streamSink{stream: s, threshold: s.bufSize}
		go s.start(sink)
	})
}

func (s *Stream) close(err error) {
	if err != nil {
		s.ch <- streamChunk{err: err}
	}
	close(s.ch)
}

// Next returns the next fragment; io.EOF signals a completed render.
func (s *Stream) Next() (string, error) {
	s.launch()
	chunk, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	if chunk.err != nil {
		return "", chunk.err
	}
	return chunk.text, nil
}

// Collect drains the stream into a single string.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
}

// WriteTo streams all fragments into w.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := io.WriteString(w, chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// streamSink feeds the stream channel, coalescing chunks up to the
// configured threshold.
type streamSink struct {
	stream    *Stream
	threshold int
	buf       strings.Builder
}

func (s *streamSink) WriteString(text string) error {
	if text == "" {
		return nil
	}
	if s.threshold <= 0 {
		s.stream.ch <- streamChunk{text: text}
		return nil
	}
	s.buf.WriteString(text)
	if s.buf.Len() >= s.threshold {
		s.flush()
	}
	return nil
}

func (s *streamSink) WriteValue(v any) error {
	return s.WriteString(str(v))
}

func (s *streamSink) flush() {
	if s.buf.Len() > 0 {
		s.stream.ch <- streamChunk{text: s.buf.String()}
		s.buf.Reset()
	}
}
