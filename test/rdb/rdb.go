// Command rdb writes a small fixture snapshot with the chosen backend, for
// exercising startup restore by hand.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miguelrodriguezrv/snapkv/app/persistence"
	"github.com/miguelrodriguezrv/snapkv/app/store"
	"github.com/miguelrodriguezrv/snapkv/app/value"
)

func main() {
	backend := flag.String("backend", "rdb", "snapshot backend: json, bolt or rdb")
	filename := flag.String("out", "test.rdb", "file to write")
	ttl := flag.Duration("ttl", time.Hour, "time to live of the expiring fixture key")
	flag.Parse()

	s, err := persistence.Open(persistence.Backend(*backend), *filename, false)
	if err != nil {
		fmt.Println("Error opening snapshot:", err)
		os.Exit(1)
	}
	defer s.Close()

	snap := store.NewSnapshot()
	snap.Values["key1"] = value.NewString("value1")
	snap.Values["key2"] = value.NewString("value2")
	snap.Values["doc"] = value.Coerce(`{"name":"fixture","tags":["a","b"],"count":2}`)
	snap.Deadlines["key2"] = time.Now().Add(*ttl).UnixMilli()

	if err := s.Save(snap); err != nil {
		fmt.Println("Error saving snapshot:", err)
		os.Exit(1)
	}
	fmt.Println("Snapshot created successfully", *filename)
}
