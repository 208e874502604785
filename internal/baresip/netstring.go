package baresip

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// maxFrame bounds a single ctrl_tcp message.
const maxFrame = 1 << 20

var ErrBadFrame = errors.New("malformed netstring")

// Encoder writes netstring frames: <len>:<payload>,
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame in a single Write call.
func (e *Encoder) Encode(payload []byte) error {
	frame := make([]byte, 0, len(payload)+12)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, ':')
	frame = append(frame, payload...)
	frame = append(frame, ',')
	_, err := e.w.Write(frame)
	return err
}

// Decoder reads netstring frames from a stream.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next payload. Garbage before a length prefix is
// reported as ErrBadFrame; the caller decides whether to continue.
func (d *Decoder) Decode() ([]byte, error) {
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n+1)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if buf[n] != ',' {
		return nil, fmt.Errorf("%w: missing trailing comma", ErrBadFrame)
	}
	return buf[:n], nil
}

func (d *Decoder) readLength() (int, error) {
	n, digits := 0, 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if digits > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		switch {
		case b >= '0' && b <= '9':
			n = n*10 + int(b-'0')
			digits++
			if n > maxFrame {
				return 0, fmt.Errorf("%w: frame exceeds %d bytes", ErrBadFrame, maxFrame)
			}
		case b == ':' && digits > 0:
			return n, nil
		default:
			return 0, fmt.Errorf("%w: unexpected byte %q in length", ErrBadFrame, b)
		}
	}
}
