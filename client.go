package gotftp

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"
)

// ClientConfig is the client-side proposal (spec.md §6 "Client
// configuration surface"). Zero values fall back to package defaults
// at Dial time, mirroring OptionPolicy's own zero-means-default idiom.
type ClientConfig struct {
	BlockSize   int
	WindowSize  int
	Timeout     int // seconds, proposed via the timeout option
	RetryBudget int
	Rollover    Rollover

	Logger *Logger
}

func (c *ClientConfig) normalize() {
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 6
	}
	if c.Logger == nil {
		c.Logger = NewLogger(nil, false)
	}
}

func (c ClientConfig) proposedOptions() []TransferOption {
	var opts []TransferOption
	if c.BlockSize != defaultBlockSize {
		opts = append(opts, TransferOption{Name: optBlockSize, Value: strconv.Itoa(c.BlockSize)})
	}
	if c.WindowSize != defaultWindowSize {
		opts = append(opts, TransferOption{Name: optWindowSize, Value: strconv.Itoa(c.WindowSize)})
	}
	if c.Timeout > 0 {
		opts = append(opts, TransferOption{Name: optTimeout, Value: strconv.Itoa(c.Timeout)})
	}
	return opts
}

// Client is a windowed TFTP client for one server address, reusing the
// same sendWindow/recvWindow machinery the server worker uses (the
// server's OACK is applied with applyEcho) (spec.md Open Questions: "the spec above chooses the windowed
// approach for both directions"). Grounded on the shape of the
// teacher's Client (one socket, Get/Put, blocking retry), generalized
// from its fixed 512-byte blocks to negotiated options.
type Client struct {
	remote net.Addr
	conn   net.PacketConn
	cfg    ClientConfig
}

// Dial resolves addr and binds an ephemeral local socket; it does not
// itself send a request.
func Dial(addr string, cfg ClientConfig) (*Client, error) {
	cfg.normalize()
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	return &Client{remote: raddr, conn: conn, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) endpoint() endpoint {
	return newUDPEndpoint(c.conn, c.remote, nil)
}

// Get performs an RRQ for name and writes the received bytes to w
// (spec.md §4.4 RRQ, §8 scenario 1/3/4/6).
func (c *Client) Get(ctx context.Context, name string, w io.Writer) error {
	ep := c.endpoint()
	req := &Packet{Op: OpRRQ, Filename: name, Mode: ModeOctet, Options: c.cfg.proposedOptions()}
	b, err := Encode(req)
	if err != nil {
		return err
	}
	if err := ep.send(b); err != nil {
		return err
	}

	timeout := c.clientTimeout()
	opts := NegotiatedOptions{BlockSize: c.fallback(c.cfg.BlockSize, defaultBlockSize), WindowSize: c.fallback(c.cfg.WindowSize, defaultWindowSize)}
	nextBlockWanted := uint16(1)

	if len(req.Options) > 0 {
		reply, err := c.recvDecoded(ep, timeout, 0)
		if err != nil {
			return err
		}
		if reply.Op == OpERROR {
			return &RemoteError{Code: reply.ErrCode, Message: reply.ErrMsg}
		} else if reply.Op == OpOACK {
			opts = applyEcho(opts, reply.Options)
			if opts.Timeout > 0 {
				timeout = time.Duration(opts.Timeout) * time.Second
			}
			// The server waits for ACK 0 after its OACK before sending DATA 1.
			ack0, err := Encode(&Packet{Op: OpACK, Block: 0})
			if err != nil {
				return err
			}
			if err := ep.send(ack0); err != nil {
				return err
			}
		} else if reply.Op == OpDATA && reply.Block == 1 {
			// Server ignored every option (e.g. legacy peer): treat this
			// first DATA as already answering the request, with the
			// default block and window sizes in force.
			opts = NegotiatedOptions{BlockSize: defaultBlockSize, WindowSize: defaultWindowSize}
			if err := c.writeAndAck(ep, w, reply, opts); err != nil {
				return err
			}
			if len(reply.Payload) < opts.BlockSize {
				return nil
			}
			nextBlockWanted = 2
		} else {
			return unexpectedReply(reply)
		}
	}

	rw := newRecvWindow(opts.WindowSize, c.cfg.Rollover, nextBlockWanted)
	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, rerr := ep.recv(timeout)
		if rerr == errTimeout {
			retries++
			if retries > c.cfg.RetryBudget {
				return newTransferError(kindTimeout, "client retry budget exhausted")
			}
			continue
		}
		if rerr != nil {
			return rerr
		}
		pkt, derr := Decode(b, opts.BlockSize)
		if derr != nil {
			continue
		}
		if pkt.Op == OpERROR {
			return &RemoteError{Code: pkt.ErrCode, Message: pkt.ErrMsg}
		}
		if pkt.Op != OpDATA {
			continue
		}
		retries = 0

		inOrder, shouldAck, ackBlock := rw.accept(pkt.Block)
		if inOrder {
			if _, werr := w.Write(pkt.Payload); werr != nil {
				return werr
			}
		}
		short := len(pkt.Payload) < opts.BlockSize
		if inOrder && short {
			ap, _ := Encode(&Packet{Op: OpACK, Block: pkt.Block})
			ep.send(ap)
			return nil
		}
		if shouldAck {
			ap, _ := Encode(&Packet{Op: OpACK, Block: ackBlock})
			ep.send(ap)
		}
	}
}

func (c *Client) writeAndAck(ep endpoint, w io.Writer, pkt *Packet, opts NegotiatedOptions) error {
	if _, err := w.Write(pkt.Payload); err != nil {
		return err
	}
	ap, err := Encode(&Packet{Op: OpACK, Block: pkt.Block})
	if err != nil {
		return err
	}
	return ep.send(ap)
}

// Put performs a WRQ for name, reading the transfer content from r
// (spec.md §4.4 WRQ, §8 scenario 2/4).
func (c *Client) Put(ctx context.Context, name string, r io.Reader) error {
	ep := c.endpoint()
	req := &Packet{Op: OpWRQ, Filename: name, Mode: ModeOctet, Options: c.cfg.proposedOptions()}
	b, err := Encode(req)
	if err != nil {
		return err
	}
	if err := ep.send(b); err != nil {
		return err
	}

	timeout := c.clientTimeout()
	opts := NegotiatedOptions{BlockSize: c.fallback(c.cfg.BlockSize, defaultBlockSize), WindowSize: c.fallback(c.cfg.WindowSize, defaultWindowSize)}

	reply, err := c.recvDecoded(ep, timeout, 0)
	if err != nil {
		return err
	}
	switch reply.Op {
	case OpOACK:
		opts = applyEcho(opts, reply.Options)
		if opts.Timeout > 0 {
			timeout = time.Duration(opts.Timeout) * time.Second
		}
	case OpACK:
		if reply.Block != 0 {
			return unexpectedReply(reply)
		}
	case OpERROR:
		return &RemoteError{Code: reply.ErrCode, Message: reply.ErrMsg}
	default:
		return unexpectedReply(reply)
	}

	sw := newSendWindow(opts.BlockSize, opts.WindowSize, c.cfg.Rollover, 1)
	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, _, ferr := sw.fill(r)
		if ferr != nil {
			return ferr
		}
		if sw.isEmpty() && sw.isFinal() {
			return nil
		}
		for _, fr := range sw.frames() {
			b, eerr := Encode(&Packet{Op: OpDATA, Block: fr.block, Payload: fr.payload})
			if eerr != nil {
				return eerr
			}
			if serr := ep.send(b); serr != nil {
				return serr
			}
		}
		lastBlock := sw.frames()[len(sw.frames())-1].block
		final := sw.isFinal()

	waitAck:
		for {
			b, rerr := ep.recv(timeout)
			if rerr == errTimeout {
				retries++
				if retries > c.cfg.RetryBudget {
					return newTransferError(kindTimeout, "client retry budget exhausted")
				}
				for _, fr := range sw.frames() {
					b, _ := Encode(&Packet{Op: OpDATA, Block: fr.block, Payload: fr.payload})
					ep.send(b)
				}
				continue
			}
			if rerr != nil {
				return rerr
			}
			pkt, derr := Decode(b, 0)
			if derr != nil {
				continue
			}
			if pkt.Op == OpERROR {
				return &RemoteError{Code: pkt.ErrCode, Message: pkt.ErrMsg}
			}
			if pkt.Op != OpACK {
				continue
			}
			if aerr := sw.onAck(pkt.Block); aerr != nil {
				continue
			}
			retries = 0
			if sw.isEmpty() && pkt.Block == lastBlock && final {
				return nil
			}
			if sw.isEmpty() {
				break waitAck
			}
		}
	}
}

func (c *Client) recvDecoded(ep endpoint, timeout time.Duration, maxBlockSize int) (*Packet, error) {
	retries := 0
	for {
		b, err := ep.recv(timeout)
		if err == errTimeout {
			retries++
			if retries > c.cfg.RetryBudget {
				return nil, newTransferError(kindTimeout, "client retry budget exhausted")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		pkt, derr := Decode(b, maxBlockSize)
		if derr != nil {
			continue
		}
		return pkt, nil
	}
}

func (c *Client) clientTimeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return time.Duration(c.cfg.Timeout) * time.Second
	}
	return 5 * time.Second
}

func (c *Client) fallback(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func applyEcho(opts NegotiatedOptions, echo []TransferOption) NegotiatedOptions {
	for _, opt := range echo {
		n, err := parseOptionInt(opt.Value)
		if err != nil {
			continue
		}
		switch opt.Name {
		case optBlockSize:
			opts.BlockSize = n
		case optWindowSize:
			opts.WindowSize = n
		case optTimeout:
			opts.Timeout = n
		case optTransferSize:
			opts.TransferSize = uint64(n)
			opts.TSizeRequested = true
		}
	}
	return opts
}

func unexpectedReply(pkt *Packet) error {
	return newTransferError(kindFraming, "unexpected reply opcode %s", pkt.Op)
}

// RemoteError is returned by Get/Put when the server answers with a
// wire ERROR packet (spec.md §6: "client ... prints the server-provided
// message").
type RemoteError struct {
	Code    uint16
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
