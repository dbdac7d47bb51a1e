package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ReadSize decodes a length-encoded size. The 0b11 prefix announces an
// integer-encoded string, in which case special is true and the returned size
// is the width in bytes of that integer.
func ReadSize(r *bufio.Reader) (size int, special bool, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	switch b >> 6 {
	case 0b00:
		return int(b & 0x3F), false, nil
	case 0b01:
		next, err := r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return int(b&0x3F)<<8 | int(next), false, nil
	case 0b10:
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return 0, false, err
		}
		return int(size), false, nil
	}

	switch b {
	case 0xC0:
		return 1, true, nil
	case 0xC1:
		return 2, true, nil
	case 0xC2:
		return 4, true, nil
	case 0xC3:
		return 0, false, errors.New("LZF compressed strings are not supported")
	}
	return 0, false, fmt.Errorf("unsupported size encoding: %x", b)
}

func ReadHeader(r io.Reader) error {
	buf := make([]byte, len(header))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if !bytes.HasPrefix(buf, []byte(headerMagic)) {
		return fmt.Errorf("invalid RDB header: %q", buf)
	}
	return nil
}

// ReadMetadata consumes the aux fields following the header and stops in
// front of the first database or EOF marker.
func ReadMetadata(r *bufio.Reader) (map[string]string, error) {
	metadata := make(map[string]string)
	for {
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		switch next[0] {
		case databaseStart, endOfFileSection:
			return metadata, nil
		case metadataStart:
			_, _ = r.Discard(1)
			key, err := ReadString(r)
			if err != nil {
				return nil, err
			}
			val, err := ReadString(r)
			if err != nil {
				return nil, err
			}
			metadata[key] = val
		default:
			return nil, fmt.Errorf("unexpected byte in metadata section: %x", next[0])
		}
	}
}

// ReadString reads a length-prefixed string. Integer-encoded strings are
// returned in their decimal form.
func ReadString(r *bufio.Reader) (string, error) {
	size, special, err := ReadSize(r)
	if err != nil {
		return "", err
	}

	// The length comes from the file, so the buffer only grows with bytes
	// actually read.
	var sb bytes.Buffer
	if _, err := io.CopyN(&sb, r, int64(size)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	buf := sb.Bytes()
	if !special {
		return string(buf), nil
	}

	var n int64
	switch size {
	case 1:
		n = int64(int8(buf[0]))
	case 2:
		n = int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		n = int64(int32(binary.LittleEndian.Uint32(buf)))
	}
	return strconv.FormatInt(n, 10), nil
}
