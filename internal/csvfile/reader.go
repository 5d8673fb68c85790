// Package csvfile reads import files as a header plus a lazy sequence of rows.
//
// The first non-blank record is the header. Data rows are zipped positionally
// against the header: short rows are padded with empty strings and extra
// values are dropped. Blank rows are skipped and do not consume a row number.
package csvfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrFileUnreadable is returned when the file cannot be opened or read
	ErrFileUnreadable = errors.New("file unreadable")
	// ErrEmptyFile is returned when the file has no header line
	ErrEmptyFile = errors.New("file is empty")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one data record. Number is 1-based and excludes the header.
type Row struct {
	Number  int
	Headers []string
	Values  []string
	// Err is set when the record could not be parsed. The row still counts.
	Err error
}

// Reader iterates over the rows of an open CSV file
type Reader struct {
	file    *os.File
	csv     *csv.Reader
	headers []string
	rowNum  int
}

// Open opens path and consumes the header line. The caller must Close the reader.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
	}

	r, err := newReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func newReader(file *os.File) (*Reader, error) {
	buffered := bufio.NewReader(file)
	if prefix, err := buffered.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		buffered.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(buffered)
	cr.FieldsPerRecord = -1
	// A stray quote must fail its own record instead of swallowing the lines after it.
	cr.LazyQuotes = false
	cr.ReuseRecord = false

	r := &Reader{file: file, csv: cr}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil, ErrEmptyFile
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("%w: malformed header: %v", ErrFileUnreadable, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
		}
		if isBlank(record) {
			continue
		}
		r.headers = make([]string, len(record))
		for i, h := range record {
			r.headers[i] = strings.TrimSpace(h)
		}
		return r, nil
	}
}

// Headers returns the header line, trimmed, in file order
func (r *Reader) Headers() []string {
	out := make([]string, len(r.headers))
	copy(out, r.headers)
	return out
}

// Next returns the next data row, or io.EOF when the file is exhausted.
// Malformed records are returned as a Row with Err set so the caller can
// account for them and keep going.
func (r *Reader) Next() (Row, error) {
	for {
		record, err := r.csv.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.rowNum++
				return Row{Number: r.rowNum, Headers: r.headers, Values: r.pad(nil), Err: err}, nil
			}
			return Row{}, fmt.Errorf("%w: %v", ErrFileUnreadable, err)
		}
		if isBlank(record) {
			continue
		}
		r.rowNum++
		return Row{Number: r.rowNum, Headers: r.headers, Values: r.pad(record)}, nil
	}
}

// Close releases the file handle
func (r *Reader) Close() error {
	return r.file.Close()
}

func (r *Reader) pad(record []string) []string {
	values := make([]string, len(r.headers))
	copy(values, record)
	return values
}

// Each opens path and calls fn for every row. The file is closed on every exit
// path, including when fn returns an error. Returning io.EOF from fn stops the
// iteration without an error.
func Each(path string, fn func(headers []string, row Row) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		row, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(r.headers, row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// CountRows returns the headers and the number of data rows in path
func CountRows(path string) ([]string, int, error) {
	r, err := Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			return r.Headers(), count, nil
		}
		if err != nil {
			return nil, 0, err
		}
		count++
	}
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
