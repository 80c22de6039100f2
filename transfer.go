package gotftp

import (
	"context"
	"net"
	"os"
	"time"
)

// transferConfig bundles the policy a worker needs that does not change
// per-transfer (spec.md §3 ServerConfig, trimmed to what transfer.go
// consults directly).
type transferConfig struct {
	policy       OptionPolicy
	retryBudget  int
	rollover     Rollover
	cleanOnError bool
	readOnly     bool
	overwrite    bool
	maxWriteSize int64 // 0 = unlimited; enforced against a WRQ's tsize
}

// transferContext is the mutable/immutable state a worker owns for the
// lifetime of one transfer (spec.md §3 TransferContext).
type transferContext struct {
	dir     Direction
	path    string
	opts    NegotiatedOptions
	corrID  string
	timeout time.Duration

	block   uint16
	file    *os.File
	retries int
}

// worker drives one RRQ or WRQ end to end over an endpoint (spec.md
// §4.4). It is shared between classic mode (endpoint backed by a
// dedicated socket) and single-port mode (endpoint backed by an
// inbox), per Design Notes §9 and grounded on
// eahydra-gotftp/src/gotftp/peer.go's handleRRQ/handleWRQ.
type worker struct {
	ep      endpoint
	cfg     transferConfig
	logger  *Logger
	metrics *serverMetrics
	corrID  string
	dir     Direction
}

// serveRRQ handles an RRQ: open path for reading under root, negotiate,
// then drive the send-window state machine until the final block is
// acknowledged or the retry budget is exhausted.
func (w *worker) serveRRQ(ctx context.Context, req *Packet, root string) {
	w.dir = DirRead
	corr := w.corrID
	path, err := resolvePath(root, req.Filename)
	if err != nil {
		w.fail(newTransferError(kindAccess, "path escape: %s", req.Filename))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.fail(newTransferError(kindPath, "file not found"))
		} else if os.IsPermission(err) {
			w.fail(newTransferError(kindAccess, "permission denied"))
		} else {
			w.fail(newTransferError(kindTerminalIO, "%s", err.Error()))
		}
		return
	}
	defer f.Close()

	var size int64
	if info, serr := f.Stat(); serr == nil {
		size = info.Size()
	}

	opts, echo := Negotiate(DirRead, req.Options, w.cfg.policy, size, 5)
	tc := &transferContext{dir: DirRead, path: path, opts: opts, corrID: corr, timeout: time.Duration(opts.Timeout) * time.Second, block: 1}

	w.logger.logf("begin RRQ <file=%s corr=%s from=%s>", req.Filename, corr, w.ep.peer())
	defer w.logger.logf("end RRQ <corr=%s>", corr)

	if len(req.Options) > 0 {
		if err := w.sendAndAwaitAck(ctx, &Packet{Op: OpOACK, Options: echo}, 0); err != nil {
			w.fail(err)
			return
		}
	}

	sw := newSendWindow(opts.BlockSize, opts.WindowSize, w.cfg.rollover, 1)
	var sent int64
	for {
		_, _, ferr := sw.fill(f)
		if ferr != nil {
			w.fail(newTransferError(kindTerminalIO, "read: %s", ferr.Error()))
			return
		}
		if sw.isEmpty() && sw.isFinal() {
			break
		}
		if err := w.transmitWindow(sw); err != nil {
			w.fail(newTransferError(kindTerminalIO, "send: %s", err.Error()))
			return
		}
		lastBlock := sw.frames()[len(sw.frames())-1].block
		for _, fr := range sw.frames() {
			sent += int64(len(fr.payload))
		}

		ack, err := w.waitForAck(ctx, sw, tc)
		if err != nil {
			w.fail(err)
			return
		}
		if sw.isEmpty() && ack == lastBlock && sw.isFinal() {
			break
		}
	}
	if w.metrics != nil {
		w.metrics.completed.WithLabelValues("read", "ok").Inc()
		w.metrics.bytesTotal.WithLabelValues("read").Add(float64(sent))
	}
}

// transmitWindow sends every frame currently buffered, in order.
func (w *worker) transmitWindow(sw *sendWindow) error {
	for _, fr := range sw.frames() {
		b, err := Encode(&Packet{Op: OpDATA, Block: fr.block, Payload: fr.payload})
		if err != nil {
			return err
		}
		if err := w.ep.send(b); err != nil {
			return err
		}
	}
	return nil
}

// waitForAck waits for an ACK that advances sw's window, retransmitting
// the whole buffered window on timeout up to the retry budget (spec.md
// §4.4 RRQ SENDING steps 3-6). It returns the last accepted ACK block.
func (w *worker) waitForAck(ctx context.Context, sw *sendWindow, tc *transferContext) (uint16, error) {
	for {
		b, err := w.ep.recv(tc.timeout)
		if err == errTimeout {
			tc.retries++
			if tc.retries > w.cfg.retryBudget {
				return 0, newTransferError(kindTimeout, "retry budget exhausted")
			}
			if w.metrics != nil {
				w.metrics.retransmits.Inc()
			}
			if rerr := w.transmitWindow(sw); rerr != nil {
				return 0, newTransferError(kindTerminalIO, "%s", rerr.Error())
			}
			continue
		}
		if err != nil {
			return 0, newTransferError(kindTerminalIO, "%s", err.Error())
		}
		pkt, derr := Decode(b, tc.opts.BlockSize)
		if derr != nil {
			continue
		}
		if pkt.Op == OpERROR {
			return 0, newTransferError(kindTerminalIO, "peer error %d: %s", pkt.ErrCode, pkt.ErrMsg)
		}
		if pkt.Op != OpACK {
			continue
		}
		if aerr := sw.onAck(pkt.Block); aerr != nil {
			// Duplicate/spurious ACK outside the window: ignore and
			// keep waiting (spec.md §4.4 step 5).
			continue
		}
		tc.retries = 0
		return pkt.Block, nil
	}
}

// sendAndAwaitAck sends pkt and waits for an ACK of wantBlock (used for
// the OACK/ACK-0 handshake that precedes DATA on an RRQ; serveWRQ sends
// its OACK or ACK 0 directly and then waits for DATA).
func (w *worker) sendAndAwaitAck(ctx context.Context, pkt *Packet, wantBlock uint16) error {
	b, err := Encode(pkt)
	if err != nil {
		return err
	}
	retries := 0
	timeout := 5 * time.Second
	for {
		if err := w.ep.send(b); err != nil {
			return newTransferError(kindTerminalIO, "%s", err.Error())
		}
		resp, rerr := w.ep.recv(timeout)
		if rerr == errTimeout {
			retries++
			if retries > w.cfg.retryBudget {
				return newTransferError(kindTimeout, "retry budget exhausted")
			}
			continue
		}
		if rerr != nil {
			return newTransferError(kindTerminalIO, "%s", rerr.Error())
		}
		reply, derr := Decode(resp, 0)
		if derr != nil {
			continue
		}
		if reply.Op == OpERROR {
			return newTransferError(kindTerminalIO, "peer error %d: %s", reply.ErrCode, reply.ErrMsg)
		}
		if reply.Op == OpACK && reply.Block == wantBlock {
			return nil
		}
	}
}

// serveWRQ handles a WRQ: validate policy (read-only, overwrite,
// quota), negotiate, then drive the receive-window state machine
// (spec.md §4.4 WRQ RECEIVING steps).
func (w *worker) serveWRQ(ctx context.Context, req *Packet, root string) {
	w.dir = DirWrite
	corr := w.corrID
	w.logger.logf("begin WRQ <file=%s corr=%s from=%s>", req.Filename, corr, w.ep.peer())
	defer w.logger.logf("end WRQ <corr=%s>", corr)

	if w.cfg.readOnly {
		w.fail(newTransferError(kindAccess, "server is read-only"))
		return
	}

	path, err := resolvePath(root, req.Filename)
	if err != nil {
		w.fail(newTransferError(kindAccess, "path escape: %s", req.Filename))
		return
	}

	exists := false
	if _, serr := os.Stat(path); serr == nil {
		exists = true
	}
	if exists && !w.cfg.overwrite {
		w.fail(newTransferError(kindPolicyExists, "file exists"))
		return
	}

	opts, echo := Negotiate(DirWrite, req.Options, w.cfg.policy, 0, 5)
	if w.cfg.maxWriteSize > 0 && opts.TSizeRequested && int64(opts.TransferSize) > w.cfg.maxWriteSize {
		w.fail(newTransferError(kindPolicyDiskFull, "quota exceeded"))
		return
	}

	flags := os.O_WRONLY | os.O_CREATE
	if exists && w.cfg.overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			w.fail(newTransferError(kindPolicyExists, "file exists"))
			return
		}
		w.fail(newTransferError(kindTerminalIO, "%s", err.Error()))
		return
	}
	cleanPartial := true
	defer func() {
		f.Close()
		if cleanPartial && w.cfg.cleanOnError {
			os.Remove(path)
		}
	}()

	tc := &transferContext{dir: DirWrite, path: path, opts: opts, corrID: corr, timeout: time.Duration(opts.Timeout) * time.Second}

	ackPkt := &Packet{Op: OpACK, Block: 0}
	if len(req.Options) > 0 {
		ackPkt = &Packet{Op: OpOACK, Options: echo}
	}
	ab, err := Encode(ackPkt)
	if err != nil {
		w.fail(newTransferError(kindTerminalIO, "%s", err.Error()))
		return
	}

	rw := newRecvWindow(opts.WindowSize, w.cfg.rollover, 1)
	var written int64
	expectLast := ab
	if err := w.ep.send(ab); err != nil {
		w.fail(newTransferError(kindTerminalIO, "%s", err.Error()))
		return
	}

	retries := 0
	for {
		b, rerr := w.ep.recv(tc.timeout)
		if rerr == errTimeout {
			retries++
			if retries > w.cfg.retryBudget {
				w.fail(newTransferError(kindTimeout, "retry budget exhausted"))
				return
			}
			if w.metrics != nil {
				w.metrics.retransmits.Inc()
			}
			w.ep.send(expectLast)
			continue
		}
		if rerr != nil {
			w.fail(newTransferError(kindTerminalIO, "%s", rerr.Error()))
			return
		}
		pkt, derr := Decode(b, opts.BlockSize)
		if derr != nil {
			continue
		}
		if pkt.Op == OpERROR {
			w.logger.logf("peer aborted WRQ <corr=%s code=%d msg=%s>", corr, pkt.ErrCode, pkt.ErrMsg)
			return
		}
		if pkt.Op != OpDATA {
			continue
		}
		retries = 0

		inOrder, shouldAck, ackBlock := rw.accept(pkt.Block)
		if inOrder {
			if _, werr := f.Write(pkt.Payload); werr != nil {
				w.fail(newTransferError(kindTerminalIO, "write: %s", werr.Error()))
				return
			}
			written += int64(len(pkt.Payload))
		}
		short := len(pkt.Payload) < opts.BlockSize
		if inOrder && short {
			ap, _ := Encode(&Packet{Op: OpACK, Block: pkt.Block})
			w.ep.send(ap)
			cleanPartial = false
			if w.metrics != nil {
				w.metrics.completed.WithLabelValues("write", "ok").Inc()
				w.metrics.bytesTotal.WithLabelValues("write").Add(float64(written))
			}
			return
		}
		if shouldAck {
			ap, _ := Encode(&Packet{Op: OpACK, Block: ackBlock})
			expectLast = ap
			w.ep.send(ap)
		}
	}
}

func (w *worker) fail(err error) {
	pkt := errorPacketFor(err)
	if b, eerr := Encode(pkt); eerr == nil {
		w.ep.send(b)
	}
	if w.metrics != nil {
		w.metrics.completed.WithLabelValues(directionLabel(w.dir), "error").Inc()
	}
	w.logger.logf("transfer failed <corr=%s>: %s", w.corrID, err.Error())
}

// sendForeignTIDError answers a packet from an unexpected TID with
// ERROR{5} addressed to the sender (spec.md §3, §8 TID isolation),
// without disturbing the legitimate transfer's state.
func sendForeignTIDError(conn net.PacketConn, addr net.Addr) {
	pkt := &Packet{Op: OpERROR, ErrCode: 5, ErrMsg: "Unknown transfer ID"}
	if b, err := Encode(pkt); err == nil {
		conn.WriteTo(b, addr)
	}
}
