// Package textchunk splits extracted document text into overlapping word windows.
package textchunk

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// ErrInvalidConfig is returned when size and overlap cannot produce a forward-moving window.
var ErrInvalidConfig = errors.New("invalid chunk configuration")

// Validate reports whether (size, overlap) is usable: size > 0 and 0 <= overlap < size.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}
	return nil
}

// Chunk splits text on whitespace and returns windows of up to size words.
// Window i starts at word i*(size-overlap) and windows are emitted while the
// start is before the last word. Text of at most size words is one window.
// Words inside a window are joined by a single space.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	if len(words) <= size {
		return []string{strings.Join(words, " ")}, nil
	}

	step := size - overlap
	chunks := make([]string, 0, Count(len(words), size, overlap))
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks, nil
}

// Count returns how many chunks Chunk produces for n words. Invalid parameters yield 0.
func Count(n, size, overlap int) int {
	if n <= 0 || Validate(size, overlap) != nil {
		return 0
	}
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n + step - 1) / step
}
