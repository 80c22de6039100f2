package gotftp

import "fmt"

// errorKind is the closed set of internal error categories a worker can
// produce (spec.md §7, Design Notes §9: "Internal errors form a closed
// set of kinds"). Mapping from kind to the wire ERROR{code, message} is
// the pure method transferError.wire below; the transport never leaks these
// types to the peer.
type errorKind int

const (
	kindFraming errorKind = iota
	kindPath
	kindAccess
	kindPolicyDiskFull
	kindPolicyExists
	kindOptionNegotiation
	kindUnknownTID
	kindTerminalIO
	kindTimeout
)

// transferError is the internal representation of a fatal condition;
// it carries enough to both log locally and produce one wire ERROR.
type transferError struct {
	kind errorKind
	msg  string
}

func (e *transferError) Error() string {
	return fmt.Sprintf("gotftp: %s", e.msg)
}

func newTransferError(kind errorKind, format string, args ...interface{}) *transferError {
	return &transferError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// wire maps an internal error kind to the RFC 1350 §5 / extension wire
// ERROR code and message (spec.md §6, §7). This is a pure function: it
// never touches the network or the filesystem.
func (e *transferError) wire() (code uint16, message string) {
	switch e.kind {
	case kindFraming:
		return 4, e.msg
	case kindPath:
		return 1, "File not found"
	case kindAccess:
		return 2, "Access violation"
	case kindPolicyDiskFull:
		return 3, "Disk full"
	case kindPolicyExists:
		return 6, "File already exists"
	case kindOptionNegotiation:
		return 8, e.msg
	case kindUnknownTID:
		return 5, "Unknown transfer ID"
	case kindTimeout:
		return 0, "Timeout"
	case kindTerminalIO:
		return 0, e.msg
	default:
		return 0, e.msg
	}
}

// errorPacketFor builds the ERROR Packet to send for err. If err is not
// a *transferError it is treated as kindTerminalIO with err.Error() as
// the message.
func errorPacketFor(err error) *Packet {
	te, ok := err.(*transferError)
	if !ok {
		te = newTransferError(kindTerminalIO, "%s", err.Error())
	}
	code, msg := te.wire()
	return &Packet{Op: OpERROR, ErrCode: code, ErrMsg: msg}
}
