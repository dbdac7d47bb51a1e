package parser

import "strconv"

func AppendString(dst []byte, s string) []byte {
	dst = append(dst, String)
	dst = append(dst, s...)
	return append(dst, '\r', '\n')
}

// AppendError appends an error reply. msg carries its own prefix, e.g.
// "ERR unknown command 'foo'".
func AppendError(dst []byte, msg string) []byte {
	dst = append(dst, Error)
	dst = append(dst, msg...)
	return append(dst, '\r', '\n')
}

func AppendInt(dst []byte, n int64) []byte {
	dst = append(dst, Integer)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, '\r', '\n')
}

func AppendBulk(dst []byte, b []byte) []byte {
	dst = append(dst, Bulk)
	dst = strconv.AppendInt(dst, int64(len(b)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, b...)
	return append(dst, '\r', '\n')
}

func AppendBulkString(dst []byte, s string) []byte {
	dst = append(dst, Bulk)
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, s...)
	return append(dst, '\r', '\n')
}

func AppendArray(dst []byte, n int) []byte {
	dst = append(dst, Array)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, '\r', '\n')
}

func AppendOK(dst []byte) []byte {
	return AppendString(dst, "OK")
}

func OK() []byte {
	return AppendOK(nil)
}

func NullBulkString() []byte {
	return []byte("$-1\r\n")
}

func NullArray() []byte {
	return []byte("*-1\r\n")
}

// EncodeStringArray encodes args as a request: an array of bulk strings.
func EncodeStringArray(args ...string) []byte {
	out := AppendArray(nil, len(args))
	for _, arg := range args {
		out = AppendBulkString(out, arg)
	}
	return out
}
