package persistence

import (
	"bytes"
	"fmt"
)

func WriteHeader(buf *bytes.Buffer) error {
	_, err := buf.WriteString(header)
	return err
}

// WriteSize appends size using the shortest of the 6, 14 and 32 bit forms.
func WriteSize(buf *bytes.Buffer, size int) error {
	switch {
	case size < 0 || int64(size) > 0xFFFFFFFF:
		return fmt.Errorf("size %d cannot be length encoded", size)
	case size < 1<<6:
		buf.WriteByte(byte(size))
	case size < 1<<14:
		buf.WriteByte(0x40 | byte(size>>8))
		buf.WriteByte(byte(size))
	default:
		buf.WriteByte(0x80)
		buf.Write([]byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)})
	}
	return nil
}

// WriteString appends a length-prefixed string. Strings are never integer
// encoded so JSON text survives byte for byte.
func WriteString(buf *bytes.Buffer, s string) error {
	if err := WriteSize(buf, len(s)); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}
