package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/id"
	"github.com/burrowdb/burrow/version"
)

// Server accepts client sessions and feeds their decoded requests to a
// per-connection SessionHandler. Frames are msgpack values on a TCP stream;
// the first frame of a connection is the handshake.
type Server struct {
	address  string
	maxConns int

	engine   engine.QueryEngine
	gate     *BusyGate
	ids      *id.Generator
	sessions *SessionRegistry
	conf     cfg.SessionConfiguration

	listener  net.Listener
	quit      chan struct{}
	wg        sync.WaitGroup
	sessionID atomic.Uint64
	connSlots chan struct{}
}

// NewServer creates a session server. maxConns bounds concurrently served
// connections; further clients are refused at accept time.
func NewServer(address string, maxConns int, eng engine.QueryEngine, gate *BusyGate,
	ids *id.Generator, sessions *SessionRegistry, conf cfg.SessionConfiguration) *Server {
	return &Server{
		address:   address,
		maxConns:  maxConns,
		engine:    eng,
		gate:      gate,
		ids:       ids,
		sessions:  sessions,
		conf:      conf,
		quit:      make(chan struct{}),
		connSlots: make(chan struct{}, maxConns),
	}
}

// Start begins listening and serving connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Info().Str("address", s.address).Msg("Client listener started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight connections to finish.
// Callers close the busy gate first so pending requests fail fast.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Error().Err(err).Msg("Accept error")
				continue
			}
		}

		select {
		case s.connSlots <- struct{}{}:
		default:
			log.Warn().Str("remote", conn.RemoteAddr().String()).
				Int("max_connections", s.maxConns).Msg("Connection limit reached, refusing client")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.connSlots }()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sessionID := s.sessionID.Add(1)
	remote := conn.RemoteAddr().String()

	log.Debug().Uint64("session_id", sessionID).Str("remote", remote).Msg("New connection")

	writer := bufio.NewWriter(conn)
	dec := msgpack.NewDecoder(bufio.NewReader(conn))
	enc := msgpack.NewEncoder(writer)

	handler := NewSessionHandler(sessionID, s.engine, s.gate, s.ids, s.conf)

	// 1. Handshake frame
	accepted, err := s.handshake(dec, enc, writer, handler)
	if err != nil {
		log.Error().Err(err).Uint64("session_id", sessionID).Msg("Handshake failed")
		return
	}
	if !accepted {
		log.Warn().Uint64("session_id", sessionID).Str("remote", remote).
			Msg("Client version rejected")
		return
	}

	s.sessions.Register(handler)
	defer func() {
		handler.OnDisconnect()
		s.sessions.Unregister(sessionID)
		log.Debug().Uint64("session_id", sessionID).Msg("Connection closed")
	}()

	// 2. Request loop
	for {
		var frame wireRequest
		if err := dec.Decode(&frame); err != nil {
			if err == io.EOF {
				return
			}
			// The stream cannot resync after a bad frame: report once and
			// drop the connection.
			log.Error().Err(err).Uint64("session_id", sessionID).Msg("Read frame error")
			resp := handler.HandleFailure(fmt.Errorf("malformed request frame: %w", err))
			writeFrame(enc, writer, wireResponse{Status: resp.Status, Error: resp.Error})
			return
		}

		resp := handler.Handle(frame.decode())

		if err := writeFrame(enc, writer, wireResponse{
			ID:     frame.ID,
			Status: resp.Status,
			Error:  resp.Error,
			Result: resp.Result,
		}); err != nil {
			log.Error().Err(err).Uint64("session_id", sessionID).Msg("Write frame error")
			return
		}
	}
}

func (s *Server) handshake(dec *msgpack.Decoder, enc *msgpack.Encoder,
	writer *bufio.Writer, handler *SessionHandler) (bool, error) {
	var hs wireHandshake
	if err := dec.Decode(&hs); err != nil {
		return false, fmt.Errorf("malformed handshake frame: %w", err)
	}

	res := handler.Handshake()
	if hs.Major != version.Major {
		res.Accepted = false
	}

	if err := writeFrame(enc, writer, res); err != nil {
		return false, err
	}
	return res.Accepted, nil
}

func writeFrame(enc *msgpack.Encoder, writer *bufio.Writer, frame any) error {
	if err := enc.Encode(frame); err != nil {
		return err
	}
	return writer.Flush()
}

type wireHandshake struct {
	Major       byte `msgpack:"major"`
	Minor       byte `msgpack:"minor"`
	Maintenance byte `msgpack:"maintenance"`
}

type wireBatchQuery struct {
	SQL  string `msgpack:"sql"`
	Args []any  `msgpack:"args"`
}

// wireRequest is the flat union of every request kind's fields; Type selects
// which of them are read.
type wireRequest struct {
	ID   uint64      `msgpack:"id"`
	Type RequestType `msgpack:"type"`

	Schema       string               `msgpack:"schema"`
	SQL          string               `msgpack:"sql"`
	Args         []any                `msgpack:"args"`
	ExpectedType engine.StatementType `msgpack:"expected_type"`
	PageSize     int                  `msgpack:"page_size"`
	MaxRows      int                  `msgpack:"max_rows"`

	CursorID uint64 `msgpack:"cursor_id"`

	Queries []wireBatchQuery `msgpack:"queries"`

	SchemaPattern string `msgpack:"schema_pattern"`
	TablePattern  string `msgpack:"table_pattern"`
	ColumnPattern string `msgpack:"column_pattern"`
}

type wireResponse struct {
	ID     uint64 `msgpack:"id"`
	Status byte   `msgpack:"status"`
	Error  string `msgpack:"error"`
	Result any    `msgpack:"result"`
}

func (f *wireRequest) decode() Request {
	switch f.Type {
	case ReqExecute:
		return NewExecuteRequest(f.ID, f.Schema, f.SQL, f.Args, f.ExpectedType, f.PageSize, f.MaxRows)
	case ReqFetch:
		return NewFetchRequest(f.ID, f.CursorID, f.PageSize)
	case ReqClose:
		return NewCloseRequest(f.ID, f.CursorID)
	case ReqQueryMeta:
		return NewQueryMetaRequest(f.ID, f.CursorID)
	case ReqBatchExecute:
		queries := make([]BatchQuery, len(f.Queries))
		for i, q := range f.Queries {
			queries[i] = BatchQuery{SQL: q.SQL, Args: q.Args}
		}
		return NewBatchExecuteRequest(f.ID, f.Schema, queries)
	case ReqMetaTables:
		return NewMetaTablesRequest(f.ID, f.SchemaPattern, f.TablePattern)
	case ReqMetaColumns:
		return NewMetaColumnsRequest(f.ID, f.SchemaPattern, f.TablePattern, f.ColumnPattern)
	case ReqMetaIndexes:
		return NewMetaIndexesRequest(f.ID, f.SchemaPattern, f.TablePattern)
	case ReqMetaParams:
		return NewMetaParamsRequest(f.ID, f.Schema, f.SQL)
	case ReqMetaPrimaryKeys:
		return NewMetaPrimaryKeysRequest(f.ID, f.SchemaPattern, f.TablePattern)
	case ReqMetaSchemas:
		return NewMetaSchemasRequest(f.ID, f.SchemaPattern)
	default:
		return &unknownRequest{request: request{ID: f.ID}, kind: f.Type}
	}
}

// unknownRequest stands in for a request kind this server does not know;
// the dispatcher answers it with an unsupported-request failure.
type unknownRequest struct {
	request

	kind RequestType
}

func (r *unknownRequest) Type() RequestType { return r.kind }
