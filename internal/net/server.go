package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"tradecore/internal/matching"
)

const (
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// Engine is the matching surface a TCP session drives. Satisfied
// directly by *matching.SimulatedExchange, or by a *server.Session
// wrapping one with cache persistence and the risk/execution engines
// (spec.md §4.3, §6).
type Engine interface {
	SubmitOrder(req matching.SubmitOrderRequest) matching.AckEvent
	SubmitBracketOrder(req matching.SubmitBracketOrderRequest) matching.AckEvent
	SubmitOCOOrder(req matching.SubmitOCOOrderRequest) (matching.AckEvent, matching.AckEvent)
	UpdateOrder(req matching.UpdateOrderRequest) matching.OrderStatusEvent
	CancelOrder(req matching.CancelOrderRequest) matching.OrderStatusEvent
	LogBook(instrumentID string) (string, error)
}

// Reporter is the subset of Session a Server drains for its broadcast
// of asynchronous events (fills, position/account updates) beyond the
// synchronous acks handleMessage already writes back.
type Reporter interface {
	Reports() <-chan matching.Event
}

// clientSession tracks one connected TCP session, addressed by its
// remote address the same way the teacher's server did.
type clientSession struct {
	conn net.Conn
}

// clientMessage links a decoded frame to the connection it arrived on.
type clientMessage struct {
	clientAddress string
	msgType       MessageType
	body          []byte
}

// Server is one trader's TCP front end: it accepts connections, decodes
// wire frames into matching requests, calls Engine synchronously for
// the ack, and — if the engine also exposes a Reporter — forwards its
// asynchronous event stream to every connected session.
type Server struct {
	address string
	port    int
	engine  Engine

	pool               WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]clientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan clientMessage
}

// New constructs a Server bound to engine. If engine also implements
// Reporter, Run starts a goroutine broadcasting its event stream.
func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         engine,
		pool:           NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]clientSession),
		clientMessages: make(chan clientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	if reporter, ok := s.engine.(Reporter); ok {
		t.Go(func() error {
			return s.broadcastReports(t, reporter)
		})
	}

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// broadcastReports fans the engine's event stream out to every
// connected session. One exchange serves one trader, so "broadcast"
// here really means "the trader's one live connection", but a second
// monitoring connection (e.g. a read-only dashboard) can attach the
// same way and receive the same stream.
func (s *Server) broadcastReports(t *tomb.Tomb, reporter Reporter) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case e, ok := <-reporter.Reports():
			if !ok {
				return nil
			}
			reportType, body, err := EncodeReport(e)
			if err != nil {
				log.Error().Err(err).Msg("unable to encode report")
				continue
			}
			s.broadcast(reportType, body)
		}
	}
}

func (s *Server) broadcast(reportType ReportMessageType, body []byte) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	for addr, cs := range s.clientSessions {
		if err := writeReport(cs.conn, reportType, body); err != nil {
			log.Error().Err(err).Str("address", addr).Msg("unable to send report, dropping session")
			delete(s.clientSessions, addr)
		}
	}
}

func writeReport(conn net.Conn, reportType ReportMessageType, body []byte) error {
	return WriteReportFrame(conn, reportType, body)
}

func (s *Server) reportError(clientAddress string, err error) {
	s.clientSessionsLock.Lock()
	cs, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}
	if writeErr := writeReport(cs.conn, ErrorReport, EncodeErrorReport(err.Error())); writeErr != nil {
		log.Error().Err(writeErr).Str("address", clientAddress).Msg("unable to send error report")
	}
}

// sessionHandler serializes message handling across every connection,
// same as the teacher's: one goroutine, one command at a time.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().Err(err).Str("clientAddress", message.clientAddress).Msg("error handling message")
				s.reportError(message.clientAddress, err)
			}
		}
	}
}

func (s *Server) handleMessage(message clientMessage) error {
	s.clientSessionsLock.Lock()
	cs, ok := s.clientSessions[message.clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	switch message.msgType {
	case Heartbeat:
		return nil
	case NewOrder:
		req, err := DecodeNewOrder(message.body)
		if err != nil {
			return err
		}
		ack := s.engine.SubmitOrder(req)
		reportType, body, err := EncodeReport(ack)
		if err != nil {
			return err
		}
		return writeReport(cs.conn, reportType, body)
	case NewBracketOrder:
		req, err := DecodeNewBracketOrder(message.body)
		if err != nil {
			return err
		}
		ack := s.engine.SubmitBracketOrder(req)
		reportType, body, err := EncodeReport(ack)
		if err != nil {
			return err
		}
		return writeReport(cs.conn, reportType, body)
	case NewOCOOrder:
		req, err := DecodeNewOCOOrder(message.body)
		if err != nil {
			return err
		}
		ackA, ackB := s.engine.SubmitOCOOrder(req)
		for _, ack := range []matching.AckEvent{ackA, ackB} {
			reportType, body, err := EncodeReport(ack)
			if err != nil {
				return err
			}
			if err := writeReport(cs.conn, reportType, body); err != nil {
				return err
			}
		}
		return nil
	case UpdateOrder:
		req, err := DecodeUpdateOrder(message.body)
		if err != nil {
			return err
		}
		status := s.engine.UpdateOrder(req)
		reportType, body, err := EncodeReport(status)
		if err != nil {
			return err
		}
		return writeReport(cs.conn, reportType, body)
	case CancelOrder:
		req, err := DecodeCancelOrder(message.body)
		if err != nil {
			return err
		}
		status := s.engine.CancelOrder(req)
		reportType, body, err := EncodeReport(status)
		if err != nil {
			return err
		}
		return writeReport(cs.conn, reportType, body)
	case LogBook:
		instrumentID, err := DecodeLogBook(message.body)
		if err != nil {
			return err
		}
		text, err := s.engine.LogBook(instrumentID)
		if err != nil {
			return err
		}
		return writeReport(cs.conn, LogBookReport, EncodeLogBookReport(text))
	default:
		return fmt.Errorf("net: unknown message type %d", message.msgType)
	}
}

// handleConnection reads exactly one frame off conn, hands it to
// sessionHandler, and re-queues the connection for its next frame —
// the teacher's short-lived-worker pattern, carried over unchanged.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		_ = conn.Close()
		return nil
	default:
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnTimeout))
	msgType, body, err := ReadFrame(conn)
	if err != nil {
		log.Info().Err(err).Str("address", conn.RemoteAddr().String()).Msg("connection closed")
		s.deleteClientSession(conn.RemoteAddr().String())
		_ = conn.Close()
		return nil
	}

	s.clientMessages <- clientMessage{
		clientAddress: conn.RemoteAddr().String(),
		msgType:       msgType,
		body:          body,
	}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, address)
}
