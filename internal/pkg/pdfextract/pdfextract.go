package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMinTextLength is the smallest trimmed text length accepted for ingestion.
const DefaultMinTextLength = 50

// ExtractionError reports a PDF that could not be opened or parsed.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract pdf %q failed: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmptyContentError reports a PDF whose extracted text is too short to index.
type EmptyContentError struct {
	Path   string
	Length int
	Min    int
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("pdf %q is empty or unreadable: %d characters of text, need at least %d", e.Path, e.Length, e.Min)
}

// Opener resolves a storage path to a readable stream.
type Opener interface {
	Open(path string) (io.ReadCloser, error)
}

// Extractor reads stored PDFs and returns their plain text.
type Extractor struct {
	opener    Opener
	minLength int
}

func NewExtractor(opener Opener, minLength int) *Extractor {
	if minLength <= 0 {
		minLength = DefaultMinTextLength
	}
	return &Extractor{opener: opener, minLength: minLength}
}

// Extract opens the PDF at path and returns its text. It fails with
// *ExtractionError when the file is missing or unparsable and with
// *EmptyContentError when the trimmed text is shorter than the minimum.
func (e *Extractor) Extract(path string) (string, error) {
	f, err := e.opener.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	text, err := ExtractText(f)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	if err := checkLength(path, text, e.minLength); err != nil {
		return "", err
	}
	return text, nil
}

func checkLength(path, text string, min int) error {
	if n := len([]rune(strings.TrimSpace(text))); n < min {
		return &EmptyContentError{Path: path, Length: n, Min: min}
	}
	return nil
}

// ExtractText reads the entire content of r and extracts plain text from the PDF.
// Returns empty string and nil error if the PDF has no extractable text.
func ExtractText(r io.Reader) (text string, err error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", errors.New("pdf is empty")
	}

	// the parser panics on some malformed xref tables
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("parse pdf panicked: %v", rec)
		}
	}()

	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
