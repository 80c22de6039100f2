package gotftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Opcode identifies the kind of a TFTP packet (RFC 1350 §5, RFC 2347).
type Opcode uint16

// Opcodes, big-endian on the wire.
const (
	OpRRQ   Opcode = 1
	OpWRQ   Opcode = 2
	OpDATA  Opcode = 3
	OpACK   Opcode = 4
	OpERROR Opcode = 5
	OpOACK  Opcode = 6
)

func (o Opcode) String() string {
	switch o {
	case OpRRQ:
		return "RRQ"
	case OpWRQ:
		return "WRQ"
	case OpDATA:
		return "DATA"
	case OpACK:
		return "ACK"
	case OpERROR:
		return "ERROR"
	case OpOACK:
		return "OACK"
	default:
		return fmt.Sprintf("Opcode(%d)", uint16(o))
	}
}

// ModeOctet is the only transfer mode this implementation serves.
const ModeOctet = "octet"

// TransferOption is one client-proposed or server-accepted option.
// Name is canonicalized to lowercase on the wire (RFC 2347 §2).
type TransferOption struct {
	Name  string
	Value string
}

// Packet is the decoded form of one TFTP datagram. Only the field group
// below that belongs to Op (request, DATA, ACK, ERROR or OACK) is meaningful.
type Packet struct {
	Op Opcode

	// RRQ / WRQ
	Filename string
	Mode     string
	Options  []TransferOption

	// DATA
	Block   uint16
	Payload []byte

	// ACK uses Block above.

	// ERROR
	ErrCode uint16
	ErrMsg  string

	// OACK uses Options above.
}

// MalformedPacket is returned by Decode for any input that is not a
// well-formed TFTP packet. Decode never panics.
type MalformedPacket struct {
	Reason string
}

func (e *MalformedPacket) Error() string {
	return "malformed tftp packet: " + e.Reason
}

func malformed(format string, args ...interface{}) error {
	return &MalformedPacket{Reason: fmt.Sprintf(format, args...)}
}

// Encode serializes p into its wire representation. Encode is a pure,
// total function: it only fails if p carries data that cannot be
// represented on the wire (an embedded NUL, an unknown opcode). The DATA
// payload length is not checked.
func Encode(p *Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, uint16(p.Op)); err != nil {
		return nil, err
	}

	switch p.Op {
	case OpRRQ, OpWRQ:
		if err := writeCString(buf, p.Filename); err != nil {
			return nil, err
		}
		if err := writeCString(buf, p.Mode); err != nil {
			return nil, err
		}
		for _, opt := range p.Options {
			if err := writeCString(buf, strings.ToLower(opt.Name)); err != nil {
				return nil, err
			}
			if err := writeCString(buf, opt.Value); err != nil {
				return nil, err
			}
		}

	case OpDATA:
		if err := binary.Write(buf, binary.BigEndian, p.Block); err != nil {
			return nil, err
		}
		buf.Write(p.Payload)

	case OpACK:
		if err := binary.Write(buf, binary.BigEndian, p.Block); err != nil {
			return nil, err
		}

	case OpERROR:
		if err := binary.Write(buf, binary.BigEndian, p.ErrCode); err != nil {
			return nil, err
		}
		if err := writeCString(buf, p.ErrMsg); err != nil {
			return nil, err
		}

	case OpOACK:
		for _, opt := range p.Options {
			if err := writeCString(buf, strings.ToLower(opt.Name)); err != nil {
				return nil, err
			}
			if err := writeCString(buf, opt.Value); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("gotftp: unknown opcode %d", p.Op)
	}

	return buf.Bytes(), nil
}

func writeCString(buf *bytes.Buffer, s string) error {
	if strings.IndexByte(s, 0) != -1 {
		return fmt.Errorf("gotftp: embedded NUL in %q", s)
	}
	buf.WriteString(s)
	return buf.WriteByte(0)
}

// Decode parses b into a Packet. It returns a *MalformedPacket for any
// input that is not well-formed; it never panics.
func Decode(b []byte, maxBlockSize int) (*Packet, error) {
	if len(b) < 2 {
		return nil, malformed("length %d < 2", len(b))
	}
	op := Opcode(binary.BigEndian.Uint16(b[:2]))
	rest := b[2:]

	switch op {
	case OpRRQ, OpWRQ:
		return decodeRequest(op, rest)
	case OpDATA:
		return decodeData(rest, maxBlockSize)
	case OpACK:
		return decodeAck(rest)
	case OpERROR:
		return decodeError(rest)
	case OpOACK:
		return decodeOack(rest)
	default:
		return nil, malformed("opcode %d not in 1..=6", uint16(op))
	}
}

func readCString(b []byte) (s string, rest []byte, err error) {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return "", nil, malformed("missing NUL terminator")
	}
	return string(b[:i]), b[i+1:], nil
}

func decodeRequest(op Opcode, b []byte) (*Packet, error) {
	filename, b, err := readCString(b)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, malformed("empty filename")
	}
	mode, b, err := readCString(b)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		return nil, malformed("empty mode")
	}

	p := &Packet{Op: op, Filename: filename, Mode: strings.ToLower(mode)}
	for len(b) > 0 {
		name, rest, err := readCString(b)
		if err != nil {
			return nil, err
		}
		value, rest2, err := readCString(rest)
		if err != nil {
			return nil, err
		}
		p.Options = append(p.Options, TransferOption{Name: strings.ToLower(name), Value: value})
		b = rest2
	}
	return p, nil
}

func decodeData(b []byte, maxBlockSize int) (*Packet, error) {
	if len(b) < 2 {
		return nil, malformed("DATA shorter than block number field")
	}
	block := binary.BigEndian.Uint16(b[:2])
	payload := b[2:]
	if maxBlockSize > 0 && len(payload) > maxBlockSize {
		return nil, malformed("DATA payload %d exceeds block size %d", len(payload), maxBlockSize)
	}
	return &Packet{Op: OpDATA, Block: block, Payload: payload}, nil
}

func decodeAck(b []byte) (*Packet, error) {
	if len(b) < 2 {
		return nil, malformed("ACK shorter than block number field")
	}
	return &Packet{Op: OpACK, Block: binary.BigEndian.Uint16(b[:2])}, nil
}

func decodeError(b []byte) (*Packet, error) {
	if len(b) < 2 {
		return nil, malformed("ERROR shorter than code field")
	}
	code := binary.BigEndian.Uint16(b[:2])
	msg, _, err := readCString(b[2:])
	if err != nil {
		return nil, err
	}
	return &Packet{Op: OpERROR, ErrCode: code, ErrMsg: msg}, nil
}

func decodeOack(b []byte) (*Packet, error) {
	p := &Packet{Op: OpOACK}
	for len(b) > 0 {
		name, rest, err := readCString(b)
		if err != nil {
			return nil, err
		}
		value, rest2, err := readCString(rest)
		if err != nil {
			return nil, err
		}
		p.Options = append(p.Options, TransferOption{Name: strings.ToLower(name), Value: value})
		b = rest2
	}
	return p, nil
}

// parseOptionInt parses a TransferOption value as a nonnegative decimal
// integer, per spec.md §3 ("value a nonnegative integer serialized as
// decimal string").
func parseOptionInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("gotftp: option value %q is not a nonnegative integer", v)
	}
	return n, nil
}
