package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
)

const stringType = 0x00

// Entry is one string key/value pair of a database section. Expires holds
// the absolute deadline in Unix milliseconds.
type Entry struct {
	Key     string
	Value   string
	Expires *int64
}

func ReadKeyValue(r *bufio.Reader) (Entry, error) {
	entry := Entry{}

	b, err := r.ReadByte()
	if err != nil {
		return entry, err
	}
	if b == expireMilliSec || b == expireSec {
		expiry, err := readExpiry(r, b)
		if err != nil {
			return entry, err
		}
		entry.Expires = &expiry
		if b, err = r.ReadByte(); err != nil {
			return entry, err
		}
	}

	if b != stringType {
		return entry, fmt.Errorf("unsupported value type: %x", b)
	}
	if entry.Key, err = ReadString(r); err != nil {
		return entry, err
	}
	if entry.Value, err = ReadString(r); err != nil {
		return entry, err
	}
	return entry, nil
}

func WriteKeyValue(buf *bytes.Buffer, entry Entry) error {
	if entry.Expires != nil {
		buf.WriteByte(expireMilliSec)
		var ms [8]byte
		binary.LittleEndian.PutUint64(ms[:], uint64(*entry.Expires))
		buf.Write(ms[:])
	}
	buf.WriteByte(stringType)
	if err := WriteString(buf, entry.Key); err != nil {
		return err
	}
	return WriteString(buf, entry.Value)
}

// readExpiry returns the deadline in milliseconds for either expiry opcode.
func readExpiry(r *bufio.Reader, opcode byte) (int64, error) {
	switch opcode {
	case expireMilliSec:
		var ms int64
		if err := binary.Read(r, binary.LittleEndian, &ms); err != nil {
			return 0, err
		}
		return ms, nil
	case expireSec:
		var sec uint32
		if err := binary.Read(r, binary.LittleEndian, &sec); err != nil {
			return 0, err
		}
		return int64(sec) * 1000, nil
	}
	return 0, fmt.Errorf("invalid expiry encoding: %x", opcode)
}
