package persistence

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/miguelrodriguezrv/snapkv/app/store"
	"github.com/miguelrodriguezrv/snapkv/app/value"
)

var (
	valuesBucket    = []byte("values")
	deadlinesBucket = []byte("deadlines")
)

// bbolt refuses empty keys, so every stored key carries a one byte prefix.
const keyPrefix = 'k'

func boltKey(key string) []byte {
	return append([]byte{keyPrefix}, key...)
}

func storeKey(k []byte) (string, error) {
	if len(k) == 0 || k[0] != keyPrefix {
		return "", fmt.Errorf("malformed key %q", k)
	}
	return string(k[1:]), nil
}

// Bolt keeps the snapshot in a bbolt database: values as JSON text and
// deadlines as 8-byte big endian milliseconds, both under prefixed keys. Each Save replaces both
// buckets inside a single transaction.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt snapshot %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Save(snap store.Snapshot) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{valuesBucket, deadlinesBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		values, err := tx.CreateBucket(valuesBucket)
		if err != nil {
			return err
		}
		deadlines, err := tx.CreateBucket(deadlinesBucket)
		if err != nil {
			return err
		}
		for key, v := range snap.Values {
			data, err := v.MarshalJSON()
			if err != nil {
				return err
			}
			if err := values.Put(boltKey(key), data); err != nil {
				return err
			}
		}
		for key, deadline := range snap.Deadlines {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(deadline))
			if err := deadlines.Put(boltKey(key), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Load() (store.Snapshot, error) {
	snap := store.NewSnapshot()
	err := b.db.View(func(tx *bolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		if values == nil {
			return ErrNoSnapshot
		}
		if err := values.ForEach(func(k, data []byte) error {
			key, err := storeKey(k)
			if err != nil {
				return err
			}
			v, err := value.Parse(string(data))
			if err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			snap.Values[key] = v
			return nil
		}); err != nil {
			return err
		}
		deadlines := tx.Bucket(deadlinesBucket)
		if deadlines == nil {
			return nil
		}
		return deadlines.ForEach(func(k, data []byte) error {
			key, err := storeKey(k)
			if err != nil {
				return err
			}
			if len(data) != 8 {
				return fmt.Errorf("key %q: deadline has %d bytes", key, len(data))
			}
			snap.Deadlines[key] = int64(binary.BigEndian.Uint64(data))
			return nil
		})
	})
	if err != nil {
		return store.Snapshot{}, err
	}
	return snap, nil
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
