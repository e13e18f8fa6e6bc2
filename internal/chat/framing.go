package chat

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
)

// lineReader splits a byte stream into newline-terminated lines, joining
// partial reads. A trailing "\r" is dropped, and a final line without a
// newline is still returned before io.EOF.
type lineReader struct {
	sc  *bufio.Scanner
	max int
}

func newLineReader(r io.Reader, maxLine int) *lineReader {
	sc := bufio.NewScanner(r)
	// Room for the line plus "\r\n" so the terminator is always seen.
	limit := maxLine + 2
	sc.Buffer(make([]byte, 0, min(limit, 4096)), limit)
	return &lineReader{sc: sc, max: maxLine}
}

func (l *lineReader) ReadLine() (string, error) {
	if !l.sc.Scan() {
		err := l.sc.Err()
		switch {
		case err == nil:
			return "", io.EOF
		case errors.Is(err, bufio.ErrTooLong):
			return "", errors.Wrapf(ErrLineTooLong, "limit %d", l.max)
		default:
			return "", errors.Wrap(err, "read")
		}
	}
	line := l.sc.Text()
	if len(line) > l.max {
		return "", errors.Wrapf(ErrLineTooLong, "limit %d", l.max)
	}
	return line, nil
}
