package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/miguelrodriguezrv/snapkv/app/store"
	"github.com/miguelrodriguezrv/snapkv/app/value"
)

// JSONFile keeps the snapshot as an indented JSON document:
//
//	{"store": {"key": <value>, ...}, "expiryTimes": {"key": <ms>, ...}}
type JSONFile struct {
	path    string
	inPlace bool
}

type jsonDocument struct {
	Store       map[string]value.Value `json:"store"`
	ExpiryTimes map[string]int64       `json:"expiryTimes"`
}

func NewJSONFile(path string, inPlace bool) *JSONFile {
	return &JSONFile{path: path, inPlace: inPlace}
}

func (f *JSONFile) Path() string { return f.path }

func (f *JSONFile) Save(snap store.Snapshot) error {
	doc := jsonDocument{Store: snap.Values, ExpiryTimes: snap.Deadlines}
	if doc.Store == nil {
		doc.Store = map[string]value.Value{}
	}
	if doc.ExpiryTimes == nil {
		doc.ExpiryTimes = map[string]int64{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFile(f.path, data, f.inPlace); err != nil {
		return fmt.Errorf("write snapshot %s: %w", f.path, err)
	}
	return nil
}

func (f *JSONFile) Load() (store.Snapshot, error) {
	data, err := readFile(f.path)
	if err != nil {
		return store.Snapshot{}, err
	}
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	snap := store.NewSnapshot()
	for k, v := range doc.Store {
		snap.Values[k] = v
	}
	for k, deadline := range doc.ExpiryTimes {
		snap.Deadlines[k] = deadline
	}
	return snap, nil
}

func (f *JSONFile) Close() error { return nil }
