package persistence

import (
	"bufio"
	"bytes"
	"fmt"
)

// maxPreallocEntries bounds the capacity taken on trust from a section header.
const maxPreallocEntries = 1024

type Database struct {
	Index   int
	Entries []Entry
}

// ReadDatabaseSection reads the section following a database start marker.
func ReadDatabaseSection(r *bufio.Reader) (*Database, error) {
	index, _, err := ReadSize(r)
	if err != nil {
		return nil, err
	}

	marker, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if marker != hashTableStart {
		return nil, fmt.Errorf("invalid start of hash table section: %x", marker)
	}

	kvSize, _, err := ReadSize(r)
	if err != nil {
		return nil, err
	}
	expireSize, _, err := ReadSize(r)
	if err != nil {
		return nil, err
	}

	db := &Database{Index: index, Entries: make([]Entry, 0, min(kvSize, maxPreallocEntries))}
	expiries := 0
	for range kvSize {
		entry, err := ReadKeyValue(r)
		if err != nil {
			return nil, fmt.Errorf("database %d: %w", index, err)
		}
		if entry.Expires != nil {
			expiries++
		}
		db.Entries = append(db.Entries, entry)
	}
	if expiries != expireSize {
		return nil, fmt.Errorf("database %d: expected %d expiries, found %d", index, expireSize, expiries)
	}
	return db, nil
}

func SaveDatabaseSection(buf *bytes.Buffer, db *Database) error {
	if err := WriteSize(buf, db.Index); err != nil {
		return err
	}
	buf.WriteByte(hashTableStart)

	expireSize := 0
	for _, entry := range db.Entries {
		if entry.Expires != nil {
			expireSize++
		}
	}
	if err := WriteSize(buf, len(db.Entries)); err != nil {
		return err
	}
	if err := WriteSize(buf, expireSize); err != nil {
		return err
	}

	for _, entry := range db.Entries {
		if err := WriteKeyValue(buf, entry); err != nil {
			return err
		}
	}
	return nil
}
