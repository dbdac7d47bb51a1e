package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/miguelrodriguezrv/snapkv/app/store"
	"github.com/miguelrodriguezrv/snapkv/app/value"
)

const (
	headerMagic      = "REDIS"
	versionNumber    = "0011"
	header           = headerMagic + versionNumber
	metadataStart    = 0xFA
	hashTableStart   = 0xFB
	expireMilliSec   = 0xFC
	expireSec        = 0xFD
	databaseStart    = 0xFE
	endOfFileSection = 0xFF

	encodingKey  = "kv-encoding"
	encodingJSON = "json"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// RDBFile keeps the snapshot in the Redis RDB layout with a single database.
// Values are written as their JSON text and flagged with a kv-encoding aux
// field; files without the flag are read as plain string values.
type RDBFile struct {
	path    string
	inPlace bool
}

func NewRDBFile(path string, inPlace bool) *RDBFile {
	return &RDBFile{path: path, inPlace: inPlace}
}

func (f *RDBFile) Save(snap store.Snapshot) error {
	entries := make([]Entry, 0, len(snap.Values))
	for key, v := range snap.Values {
		data, err := v.MarshalJSON()
		if err != nil {
			return err
		}
		entry := Entry{Key: key, Value: string(data)}
		if deadline, ok := snap.Deadlines[key]; ok {
			entry.Expires = &deadline
		}
		entries = append(entries, entry)
	}
	data, err := EncodeRDB(map[string]string{encodingKey: encodingJSON}, []*Database{{Index: 0, Entries: entries}})
	if err != nil {
		return err
	}
	if err := writeFile(f.path, data, f.inPlace); err != nil {
		return fmt.Errorf("write snapshot %s: %w", f.path, err)
	}
	return nil
}

func (f *RDBFile) Load() (store.Snapshot, error) {
	data, err := readFile(f.path)
	if err != nil {
		return store.Snapshot{}, err
	}
	if err := VerifyChecksum(data); err != nil {
		return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", f.path, err)
	}
	metadata, databases, err := LoadRDB(bytes.NewReader(data))
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", f.path, err)
	}

	jsonValues := metadata[encodingKey] == encodingJSON
	snap := store.NewSnapshot()
	for _, db := range databases {
		for _, entry := range db.Entries {
			v := value.NewString(entry.Value)
			if jsonValues {
				if v, err = value.Parse(entry.Value); err != nil {
					return store.Snapshot{}, fmt.Errorf("key %q: %w", entry.Key, err)
				}
			}
			snap.Values[entry.Key] = v
			if entry.Expires != nil {
				snap.Deadlines[entry.Key] = *entry.Expires
			}
		}
	}
	return snap, nil
}

func (f *RDBFile) Close() error { return nil }

// LoadRDB reads an RDB stream and returns its aux metadata and databases.
func LoadRDB(r io.Reader) (map[string]string, []*Database, error) {
	br := bufio.NewReader(r)
	if err := ReadHeader(br); err != nil {
		return nil, nil, err
	}
	metadata, err := ReadMetadata(br)
	if err != nil {
		return nil, nil, err
	}

	databases := []*Database{}
	for {
		startByte, err := br.ReadByte()
		if err != nil {
			return nil, nil, err
		}
		switch startByte {
		case endOfFileSection:
			return metadata, databases, nil
		case databaseStart:
			database, err := ReadDatabaseSection(br)
			if err != nil {
				return nil, nil, err
			}
			databases = append(databases, database)
		default:
			return nil, nil, fmt.Errorf("unexpected byte: %x", startByte)
		}
	}
}

// EncodeRDB renders a complete RDB file including the trailing checksum.
func EncodeRDB(metadata map[string]string, databases []*Database) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf); err != nil {
		return nil, err
	}
	for key, val := range metadata {
		buf.WriteByte(metadataStart)
		if err := WriteString(&buf, key); err != nil {
			return nil, err
		}
		if err := WriteString(&buf, val); err != nil {
			return nil, err
		}
	}
	for _, db := range databases {
		buf.WriteByte(databaseStart)
		if err := SaveDatabaseSection(&buf, db); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(endOfFileSection)

	checksum := make([]byte, 8)
	binary.LittleEndian.PutUint64(checksum, crc64.Checksum(buf.Bytes(), crcTable))
	buf.Write(checksum)
	return buf.Bytes(), nil
}

// VerifyChecksum checks the trailing CRC-64 of a complete RDB file.
func VerifyChecksum(data []byte) error {
	if len(data) < len(header)+9 {
		return errors.New("file too short to contain a checksum")
	}
	content := data[:len(data)-8]
	stored := binary.LittleEndian.Uint64(data[len(data)-8:])
	if crc64.Checksum(content, crcTable) != stored {
		return errors.New("CRC64 checksum failed")
	}
	return nil
}
