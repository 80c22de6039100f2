package gotftp

import (
	"context"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ServerConfig is the immutable, shared-by-reference configuration for
// one Server (spec.md §3 ServerConfig, §6 "Server configuration
// surface").
type ServerConfig struct {
	ListenAddr string // ip:port, defaults to ":69"

	SendRoot    string // root for RRQ (download) requests
	ReceiveRoot string // root for WRQ (upload) requests

	ReadOnly   bool
	Overwrite  bool
	// OverwriteSet records whether Overwrite was explicitly assigned.
	// Unset, Overwrite defaults to true (spec.md §6 "Defaults: ...
	// overwrite true"); set it alongside Overwrite to pin a false value.
	OverwriteSet bool
	SinglePort   bool
	CleanOnError bool

	Policy       OptionPolicy
	RetryBudget  int // default 6
	Rollover     Rollover
	MaxWriteSize int64

	Logger            *Logger
	MetricsRegisterer prometheus.Registerer // nil disables metrics
}

func (c *ServerConfig) normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":69"
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 6
	}
	if c.Policy.MaxWindowSize <= 0 {
		c.Policy.MaxWindowSize = 64
	}
	if c.Policy.MaxBlockSize <= 0 {
		c.Policy.MaxBlockSize = maxBlockSize
	}
	if !c.OverwriteSet {
		c.Overwrite = true
	}
	if c.Logger == nil {
		c.Logger = NewLogger(nil, true)
	}
}

// Server is the dual-mode TFTP dispatcher (spec.md §4.5). In classic
// mode (the default), each accepted request gets a fresh ephemeral
// socket and its own worker goroutine, grounded on
// eahydra-gotftp/src/gotftp/server.go's Run. In single-port mode, all
// traffic flows through the listening socket and workers are fed via
// per-peer inbox channels, grounded on root-level
// eahydra-gotftp/server.go's Server/clientPeer/packetChan design.
type Server struct {
	cfg     ServerConfig
	conn    net.PacketConn
	metrics *serverMetrics

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	peers  map[string]chan []byte
	closed bool
}

// NewServer binds the listening socket and prepares a Server; call Run
// to start serving.
func NewServer(cfg ServerConfig) (*Server, error) {
	cfg.normalize()
	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
		peers:  make(map[string]chan []byte),
	}
	if cfg.MetricsRegisterer != nil {
		s.metrics = newServerMetrics()
		s.metrics.register(cfg.MetricsRegisterer, cfg.Logger)
	}
	return s, nil
}

// Close signals every worker to terminate at its next suspension point
// (spec.md §5 "Cancellation") and closes the listening socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, inbox := range s.peers {
		close(inbox)
	}
	s.peers = make(map[string]chan []byte)
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close()
	s.group.Wait()
	return err
}

// Run accepts requests until Close is called or the listening socket
// fails. In single-port mode it also demultiplexes ongoing transfers by
// TID; in classic mode it only ever sees new RRQ/WRQ packets.
func (s *Server) Run() error {
	buf := make([]byte, 65536+4)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		if s.cfg.SinglePort {
			s.dispatchSinglePort(addr, data)
		} else {
			s.dispatchClassic(addr, data)
		}
	}
}

func (s *Server) isRequest(data []byte) (*Packet, bool) {
	pkt, err := Decode(data, 0)
	if err != nil {
		return nil, false
	}
	return pkt, pkt.Op == OpRRQ || pkt.Op == OpWRQ
}

// dispatchClassic implements spec.md §4.5 "Classic mode": bind a fresh
// ephemeral socket per accepted request and hand it to a new worker.
func (s *Server) dispatchClassic(addr net.Addr, data []byte) {
	pkt, isReq := s.isRequest(data)
	if !isReq {
		// No established transfer owns the well-known port in classic
		// mode; any non-request here is a stray/foreign packet.
		sendForeignTIDError(s.conn, addr)
		return
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		s.cfg.Logger.logf("classic mode: bind ephemeral socket failed: %s", err.Error())
		return
	}
	ep := newUDPEndpoint(conn, addr, func(alien net.Addr, _ []byte) {
		sendForeignTIDError(conn, alien)
	})
	s.spawnWorker(ep, pkt)
}

// dispatchSinglePort implements spec.md §4.5 "Single-port mode": route
// by TID into a per-peer inbox, spawning a worker only for new TIDs.
func (s *Server) dispatchSinglePort(addr net.Addr, data []byte) {
	key := addr.String()

	s.mu.Lock()
	inbox, known := s.peers[key]
	s.mu.Unlock()

	if known {
		select {
		case inbox <- data:
		default:
			// Inbox full: the worker is behind; drop rather than block
			// the dispatcher, which must remain the socket's sole reader.
		}
		return
	}

	pkt, isReq := s.isRequest(data)
	if !isReq {
		sendForeignTIDError(s.conn, addr)
		return
	}

	inbox = make(chan []byte, 32)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.peers[key] = inbox
	s.mu.Unlock()

	unregister := func() {
		s.mu.Lock()
		delete(s.peers, key)
		s.mu.Unlock()
	}
	ep := newInboxEndpoint(s.ctx, s.conn, addr, inbox, unregister)
	s.spawnWorker(ep, pkt)
}

func (s *Server) spawnWorker(ep endpoint, req *Packet) {
	corr := correlationID()
	cfg := transferConfig{
		policy:       s.cfg.Policy,
		retryBudget:  s.cfg.RetryBudget,
		rollover:     s.cfg.Rollover,
		cleanOnError: s.cfg.CleanOnError,
		readOnly:     s.cfg.ReadOnly,
		overwrite:    s.cfg.Overwrite,
		maxWriteSize: s.cfg.MaxWriteSize,
	}
	w := &worker{ep: ep, cfg: cfg, logger: s.cfg.Logger, metrics: s.metrics, corrID: corr}

	if req.Mode != ModeOctet {
		w.fail(newTransferError(kindFraming, "unsupported mode %q", req.Mode))
		ep.close()
		return
	}

	if s.metrics != nil {
		s.metrics.active.Inc()
	}
	s.group.Go(func() error {
		defer ep.close()
		defer func() {
			if s.metrics != nil {
				s.metrics.active.Dec()
			}
		}()
		// Close the endpoint when the server is closed, so a worker
		// blocked in recv (on a classic-mode socket or an inbox) stops.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-s.ctx.Done():
				ep.close()
			case <-stop:
			}
		}()
		switch req.Op {
		case OpRRQ:
			w.serveRRQ(s.ctx, req, s.cfg.SendRoot)
		case OpWRQ:
			w.serveWRQ(s.ctx, req, s.cfg.ReceiveRoot)
		}
		return nil
	})
}
