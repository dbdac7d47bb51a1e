package server

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/miguelrodriguezrv/snapkv/app/parser"
)

const readChunk = 4096

var protocolError = parser.AppendError(nil, "ERR Protocol error")

func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	logger := log.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("Client connected")

	buf := make([]byte, 0, readChunk)
	tmp := make([]byte, readChunk)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("Error reading from client")
			}
			logger.Debug().Msg("Client disconnected")
			return
		}
		buf = append(buf, tmp[:n]...)

		var ok bool
		if buf, ok = s.drain(conn, buf, logger); !ok {
			return
		}
	}
}

// drain executes every complete command at the start of buf and returns the
// unconsumed bytes. A malformed request is answered with a protocol error and
// the buffered bytes are dropped; the connection stays open.
func (s *Server) drain(conn net.Conn, buf []byte, logger zerolog.Logger) ([]byte, bool) {
	for len(buf) > 0 {
		req, remainder, err := parser.ParseCommand(buf)
		if errors.Is(err, parser.ErrIncomplete) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Error parsing command")
			if _, werr := conn.Write(protocolError); werr != nil {
				return nil, false
			}
			return buf[:0], true
		}
		buf = remainder
		if len(req) == 0 {
			continue
		}

		if _, err := conn.Write(s.exec.Execute(req)); err != nil {
			logger.Warn().Err(err).Msg("Error writing reply")
			return nil, false
		}
	}
	return buf, true
}
