package provider

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Lines yields the lines of an SSE body without their line terminators, blank lines
// included. The body is closed when the sequence ends or the caller stops early.
func Lines(body io.ReadCloser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer body.Close()

		r := bufio.NewReaderSize(body, 64*1024)
		for {
			line, err := r.ReadString('\n')
			if len(line) > 0 {
				if !yield(strings.TrimRight(line, "\r\n"), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("read upstream stream: %w", err))
				return
			}
		}
	}
}
