package engine

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/miguelrodriguezrv/snapkv/app/parser"
)

const Version = "0.1.0"

var infoSections = []string{"server", "keyspace", "persistence"}

func (e *Engine) handleInfo(req [][]byte) ([]byte, bool) {
	sections := infoSections
	if len(req) > 1 {
		sections = nil
		for _, arg := range req[1:] {
			switch name := strings.ToLower(string(arg)); name {
			case "all", "default", "everything":
				sections = infoSections
			default:
				sections = append(sections, name)
			}
		}
	}

	var parts []string
	for _, section := range sections {
		switch section {
		case "server":
			parts = append(parts, e.infoServer())
		case "keyspace":
			parts = append(parts, e.infoKeyspace())
		case "persistence":
			parts = append(parts, e.infoPersistence())
		}
	}
	return parser.AppendBulkString(nil, strings.Join(parts, "\n\n")), false
}

func (e *Engine) infoServer() string {
	return fmt.Sprintf(`# Server
snapkv_version:%s
go_version:%s
process_id:%d
tcp_port:%s
uptime_in_seconds:%d`,
		Version,
		runtime.Version(),
		os.Getpid(),
		e.params["port"],
		int64(e.now().Sub(e.startedAt).Seconds()),
	)
}

func (e *Engine) infoKeyspace() string {
	info := "# Keyspace"
	if n := e.store.Len(); n > 0 {
		info += fmt.Sprintf("\ndb0:keys=%d,expires=%d", n, e.store.ExpiresLen())
	}
	return info
}

func (e *Engine) infoPersistence() string {
	status := "ok"
	if e.lastSaveErr != nil {
		status = "err"
	}
	var lastSave int64
	if !e.lastSaveAt.IsZero() {
		lastSave = e.lastSaveAt.Unix()
	}
	return fmt.Sprintf(`# Persistence
snapshot_saves:%d
snapshot_failures:%d
snapshot_last_save_time:%d
snapshot_last_status:%s`,
		e.saves,
		e.saveFailures,
		lastSave,
		status,
	)
}
