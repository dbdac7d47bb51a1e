// Package parser frames RESP requests and encodes RESP replies.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	Integer = ':'
	String  = '+'
	Bulk    = '$'
	Array   = '*'
	Error   = '-'
)

const (
	maxArrayLen = 1024 * 1024
	maxBulkLen  = 512 * 1024 * 1024
)

var (
	ErrInvalidArrayAst  = errors.New("Invalid array, expected *")
	ErrInvalidArrayCRLF = errors.New("Invalid array, expected \r\n")
	ErrInvalidBulkCRLF  = errors.New("Invalid bulk string, expected \r\n")
	// ErrIncomplete means the packet ends before the command does; the caller
	// should read more bytes and retry with the same buffer.
	ErrIncomplete = errors.New("incomplete command")
)

// ParseCommand decodes one request (an array of bulk strings) from the start
// of packet. It returns the arguments and the unread remainder. The returned
// arguments alias packet.
func ParseCommand(packet []byte) ([][]byte, []byte, error) {
	if len(packet) == 0 {
		return nil, nil, nil
	}
	if packet[0] != Array {
		return nil, nil, ErrInvalidArrayAst
	}
	line, i, err := readLine(packet, 1)
	if err != nil {
		return nil, nil, err
	}
	count, err := parseLength(line, "array", maxArrayLen)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return nil, packet[i:], nil
	}

	args := make([][]byte, 0, count)
	for j := 0; j < count; j++ {
		if i >= len(packet) {
			return nil, nil, ErrIncomplete
		}
		if packet[i] != Bulk {
			return nil, nil, fmt.Errorf("expected '$', got '%c'", packet[i])
		}
		line, i, err = readLine(packet, i+1)
		if err != nil {
			return nil, nil, err
		}
		n, err := parseLength(line, "bulk", maxBulkLen)
		if err != nil {
			return nil, nil, err
		}
		if len(packet)-i < n+2 {
			return nil, nil, ErrIncomplete
		}
		if packet[i+n] != '\r' || packet[i+n+1] != '\n' {
			return nil, nil, ErrInvalidBulkCRLF
		}
		args = append(args, packet[i:i+n])
		i += n + 2
	}
	return args, packet[i:], nil
}

// readLine returns the bytes between start and the next CRLF, and the index
// just past it.
func readLine(b []byte, start int) ([]byte, int, error) {
	idx := bytes.IndexByte(b[start:], '\n')
	if idx < 0 {
		return nil, 0, ErrIncomplete
	}
	end := start + idx
	if end == start || b[end-1] != '\r' {
		return nil, 0, ErrInvalidArrayCRLF
	}
	return b[start : end-1], end + 1, nil
}

func parseLength(line []byte, kind string, limit int) (int, error) {
	n, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, fmt.Errorf("invalid %s length: '%s'", kind, line)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s length: negative number not allowed", kind)
	}
	if n > limit {
		return 0, fmt.Errorf("invalid %s length: %d exceeds limit", kind, n)
	}
	return n, nil
}
