// Package corpus streams training text line by line from plain or
// compressed files.
package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxLineBytes is the longest line the reader yields. Longer lines are
// skipped, not fatal.
const MaxLineBytes = 4 << 20

// ErrLineTooLong is yielded in place of a line over MaxLineBytes. Iteration
// continues with the next line.
var ErrLineTooLong = errors.New("line exceeds max length")

// Stdin is the path that selects standard input.
const Stdin = "-"

// Source is an open corpus.
type Source struct {
	name    string
	r       io.Reader
	closers []func() error
}

// Open opens path, or stdin when path is "-". Files ending in .gz, .zst or
// .br are decompressed on the fly.
func Open(path string) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("corpus path is required")
	}
	if path == Stdin {
		return &Source{name: "stdin", r: os.Stdin}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	src := &Source{name: path, closers: []func() error{f.Close}}
	r, err := src.decompress(f, path)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	src.r = r
	return src, nil
}

// NewSource wraps an already open reader. name labels the source in logs.
func NewSource(name string, r io.Reader) *Source {
	return &Source{name: name, r: r}
}

func (s *Source) decompress(r io.Reader, path string) (io.Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip corpus: %w", err)
		}
		s.closers = append(s.closers, gz.Close)
		return gz, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd corpus: %w", err)
		}
		s.closers = append(s.closers, func() error { dec.Close(); return nil })
		return dec, nil
	case ".br":
		return brotli.NewReader(r), nil
	default:
		return r, nil
	}
}

// Name is the path the source was opened from, or "stdin".
func (s *Source) Name() string { return s.name }

// Lines yields every line without its trailing newline. A line over
// MaxLineBytes is reported as an error wrapping ErrLineTooLong and the next
// line follows; any other read error ends the iteration.
func (s *Source) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufio.NewReaderSize(s.r, 64*1024)
		var (
			buf      []byte
			oversize bool
			lineNo   int64
		)
		for {
			chunk, err := br.ReadSlice('\n')
			if !oversize {
				buf = append(buf, chunk...)
				// Room for the content plus "\r\n".
				if len(buf) > MaxLineBytes+2 {
					oversize = true
					buf = buf[:0]
				}
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}

			atEOF := errors.Is(err, io.EOF)
			if err == nil || len(buf) > 0 || oversize {
				lineNo++
				line := bytes.TrimSuffix(bytes.TrimSuffix(buf, []byte("\n")), []byte("\r"))
				var ok bool
				if oversize || len(line) > MaxLineBytes {
					ok = yield("", fmt.Errorf("read %s line %d: %w", s.name, lineNo, ErrLineTooLong))
				} else {
					ok = yield(string(line), nil)
				}
				if !ok {
					return
				}
			}
			buf, oversize = buf[:0], false

			if atEOF {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read %s: %w", s.name, err))
				return
			}
		}
	}
}

// Close releases decompressors and the underlying file, innermost first.
func (s *Source) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// FromStrings yields lines from memory; handy for tests and small seeds.
func FromStrings(lines ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, line := range lines {
			if !yield(line, nil) {
				return
			}
		}
	}
}
