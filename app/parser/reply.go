package parser

import (
	"slices"
	"strconv"
)

type Type byte

// Reply is one decoded RESP value. For arrays Data holds the encoded
// elements and Count their number; nil bulk strings and arrays set Nil.
type Reply struct {
	Type  Type
	Raw   []byte
	Data  []byte
	Count int
	Nil   bool
}

// ParseReply decodes a single RESP value from the start of b and returns the
// number of bytes it used. A zero length means b does not yet hold a complete,
// well-formed value.
func ParseReply(b []byte) (int, Reply) {
	var reply = Reply{}
	if len(b) == 0 {
		return 0, Reply{}
	}
	reply.Type = Type(b[0])
	if !slices.Contains([]Type{Integer, String, Bulk, Array, Error}, reply.Type) {
		return 0, Reply{}
	}

	line, i, err := readLine(b, 1)
	if err != nil {
		return 0, Reply{}
	}
	reply.Raw = b[0:i]
	reply.Data = line
	switch reply.Type {
	case String, Error:
		return i, reply
	case Integer:
		if _, err := strconv.ParseInt(string(line), 10, 64); err != nil {
			return 0, Reply{}
		}
		return i, reply
	}

	reply.Count, err = strconv.Atoi(string(line))
	if err != nil {
		return 0, Reply{}
	}
	if reply.Count < 0 {
		reply.Data = nil
		reply.Count = 0
		reply.Nil = true
		return i, reply
	}
	if reply.Type == Bulk {
		n := reply.Count
		if len(b) < i+n+2 || b[i+n] != '\r' || b[i+n+1] != '\n' {
			return 0, Reply{}
		}
		reply.Data = b[i : i+n]
		reply.Raw = b[0 : i+n+2]
		reply.Count = 0
		return len(reply.Raw), reply
	}

	var tn int
	rest := b[i:]
	for j := 0; j < reply.Count; j++ {
		rn, elem := ParseReply(rest)
		if elem.Type == 0 {
			return 0, Reply{}
		}
		tn += rn
		rest = rest[rn:]
	}
	reply.Data = b[i : i+tn]
	reply.Raw = b[0 : i+tn]
	return len(reply.Raw), reply
}

// Elements splits an array reply into its decoded elements.
func (r Reply) Elements() []Reply {
	if r.Type != Array {
		return nil
	}
	elems := make([]Reply, 0, r.Count)
	rest := r.Data
	for len(rest) > 0 {
		n, elem := ParseReply(rest)
		if n == 0 {
			break
		}
		elems = append(elems, elem)
		rest = rest[n:]
	}
	return elems
}
