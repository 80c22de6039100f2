package gotftp

import (
	"context"
	"errors"
	"net"
	"time"
)

// errTimeout is returned by endpoint.recv when no packet arrived before
// the deadline. Callers distinguish it from other errors to drive the
// worker's retry/retransmit logic (spec.md §4.4 step 6).
var errTimeout = errors.New("gotftp: recv timeout")

// endpoint is "a means to send to my peer and receive from my peer
// within a deadline" (spec.md Design Notes §9). A worker is constructed
// with one endpoint and never touches a raw socket or an inbox
// directly; whether that capability is backed by a dedicated UDP socket
// (classic mode) or a channel fed by the dispatcher's single shared
// socket (single-port mode) is a constructor-time choice, modeled after
// original_source's Socket trait (UdpSocket vs. channel-backed
// ServerSocket).
type endpoint interface {
	// send transmits b to the peer.
	send(b []byte) error
	// recv waits up to timeout for the next packet from the peer. It
	// returns errTimeout if none arrives in time.
	recv(timeout time.Duration) ([]byte, error)
	// peer returns the transfer's fixed remote TID.
	peer() net.Addr
	// close releases any resources the endpoint owns. In single-port
	// mode this unregisters the inbox from the dispatcher; in classic
	// mode it closes the per-transfer socket.
	close()
}

// udpEndpoint is the classic-mode endpoint: one dedicated UDP socket per
// transfer, bound to an ephemeral port (spec.md §4.5 "Classic mode").
// Grounded on eahydra-gotftp/src/gotftp/peer.go's newClientPeer, which
// opens exactly this kind of per-peer socket.
type udpEndpoint struct {
	conn    net.PacketConn
	remote  net.Addr
	onAlien func(addr net.Addr, b []byte)
}

func newUDPEndpoint(conn net.PacketConn, remote net.Addr, onAlien func(net.Addr, []byte)) *udpEndpoint {
	return &udpEndpoint{conn: conn, remote: remote, onAlien: onAlien}
}

func (e *udpEndpoint) send(b []byte) error {
	_, err := e.conn.WriteTo(b, e.remote)
	return err
}

func (e *udpEndpoint) recv(timeout time.Duration) ([]byte, error) {
	for {
		if timeout > 0 {
			e.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		buf := make([]byte, 65536+4)
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, errTimeout
			}
			return nil, err
		}
		if !sameTID(addr, e.remote) {
			// Foreign TID: hand the packet to onAlien (the server's
			// classic-mode handler answers ERROR{5} to the sender) and
			// keep waiting for the legitimate peer (spec.md §3, TID
			// isolation).
			if e.onAlien != nil {
				e.onAlien(addr, buf[:n])
			}
			continue
		}
		return buf[:n], nil
	}
}

func (e *udpEndpoint) peer() net.Addr { return e.remote }

func (e *udpEndpoint) close() { e.conn.Close() }

func sameTID(a, b net.Addr) bool {
	return a.String() == b.String()
}

// inboxEndpoint is the single-port-mode endpoint: the worker never
// calls recv on the raw socket (spec.md §4.5 "Worker-to-socket
// contract"); it only reads from an inbox the dispatcher feeds, and
// sends through the shared socket addressed to its peer.
type inboxEndpoint struct {
	ctx      context.Context
	shared   net.PacketConn
	remote   net.Addr
	inbox    chan []byte
	unregister func()
}

func newInboxEndpoint(ctx context.Context, shared net.PacketConn, remote net.Addr, inbox chan []byte, unregister func()) *inboxEndpoint {
	return &inboxEndpoint{ctx: ctx, shared: shared, remote: remote, inbox: inbox, unregister: unregister}
}

func (e *inboxEndpoint) send(b []byte) error {
	_, err := e.shared.WriteTo(b, e.remote)
	return err
}

func (e *inboxEndpoint) recv(timeout time.Duration) ([]byte, error) {
	var timer *time.Timer
	var c <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		c = timer.C
		defer timer.Stop()
	}
	select {
	case b, ok := <-e.inbox:
		if !ok {
			return nil, errors.New("gotftp: inbox closed")
		}
		return b, nil
	case <-c:
		return nil, errTimeout
	case <-e.ctx.Done():
		return nil, e.ctx.Err()
	}
}

func (e *inboxEndpoint) peer() net.Addr { return e.remote }

func (e *inboxEndpoint) close() {
	if e.unregister != nil {
		e.unregister()
	}
}
