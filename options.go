package gotftp

import (
	"strconv"
)

// Option names, canonical lowercase form (RFC 2347/2348/2349/7440).
const (
	optBlockSize  = "blksize"
	optTimeout    = "timeout"
	optTransferSize = "tsize"
	optWindowSize = "windowsize"
)

const (
	defaultBlockSize  = 512
	minBlockSize      = 8
	// maxBlockSize matches RFC 2348's ceiling: the largest blksize that
	// still fits a DATA payload in a single non-fragmented datagram,
	// same constant eahydra-gotftp/src/gotftp/protocol.go uses.
	maxBlockSize      = 65464
	defaultWindowSize = 1
	minWindowSize     = 1
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 255
)

// OptionPolicy caps what a server (or a client responding to its own
// proposals) is willing to negotiate. Values of zero mean "use the
// package default cap" where a default exists.
type OptionPolicy struct {
	MaxBlockSize  int
	MaxWindowSize int
	MaxTimeout    int // seconds
}

func (p OptionPolicy) maxBlockSize() int {
	if p.MaxBlockSize <= 0 {
		return maxBlockSize
	}
	return p.MaxBlockSize
}

func (p OptionPolicy) maxWindowSize() int {
	if p.MaxWindowSize <= 0 {
		return 64
	}
	return p.MaxWindowSize
}

func (p OptionPolicy) maxTimeout() int {
	if p.MaxTimeout <= 0 || p.MaxTimeout > maxTimeoutSeconds {
		return maxTimeoutSeconds
	}
	return p.MaxTimeout
}

// NegotiatedOptions is the outcome of option negotiation for one
// transfer (spec.md §3).
type NegotiatedOptions struct {
	BlockSize    int
	WindowSize   int
	Timeout      int // seconds
	TransferSize uint64
	// TSizeRequested records whether the peer proposed tsize at all,
	// distinguishing "proposed tsize=0, please tell me the size" from
	// "never asked".
	TSizeRequested bool
}

// optionRow is one entry in the negotiation table (Design Notes §9:
// "Model option handling as a table keyed by canonical name"). The wire
// value is parsed by parseOptionInt before the row is consulted; clamp
// applies server policy and returns the value to echo, or echo=false to
// drop the option from the echo list silently (unknown/absent options
// are not rows at all).
type optionRow struct {
	name  string
	clamp func(proposed int, policy OptionPolicy) (accepted int, echo bool)
}

var optionTable = []optionRow{
	{
		name: optBlockSize,
		clamp: func(proposed int, policy OptionPolicy) (int, bool) {
			v := proposed
			if max := policy.maxBlockSize(); v > max {
				v = max
			}
			if v < minBlockSize {
				v = minBlockSize
			}
			return v, true
		},
	},
	{
		name: optWindowSize,
		clamp: func(proposed int, policy OptionPolicy) (int, bool) {
			v := proposed
			if v < minWindowSize {
				v = minWindowSize
			}
			if max := policy.maxWindowSize(); v > max {
				v = max
			}
			return v, true
		},
	},
	{
		name: optTimeout,
		clamp: func(proposed int, policy OptionPolicy) (int, bool) {
			v := proposed
			if v < minTimeoutSeconds {
				v = minTimeoutSeconds
			}
			if max := policy.maxTimeout(); v > max {
				v = max
			}
			return v, true
		},
	},
	// tsize is handled specially in negotiate: on RRQ the server
	// substitutes the real file size regardless of the client's
	// proposed value, and on WRQ it accepts the client's value
	// verbatim (subject to a quota check the caller performs).
}

func lookupOption(name string) (optionRow, bool) {
	for _, row := range optionTable {
		if row.name == name {
			return row, true
		}
	}
	return optionRow{}, false
}

// Direction distinguishes RRQ from WRQ for tsize handling.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
)

// Negotiate intersects the client's proposed options with the server's
// policy and returns the resolved NegotiatedOptions plus the exact list
// of options to echo in an OACK (spec.md §4.2). fileSize is the real
// size of the file being read (ignored for WRQ). defaultTimeout is the
// server's configured default when the client proposes none.
func Negotiate(dir Direction, proposed []TransferOption, policy OptionPolicy, fileSize int64, defaultTimeout int) (NegotiatedOptions, []TransferOption) {
	out := NegotiatedOptions{
		BlockSize:  defaultBlockSize,
		WindowSize: defaultWindowSize,
		Timeout:    defaultTimeout,
	}
	if out.Timeout <= 0 {
		out.Timeout = 5
	}

	var echo []TransferOption
	for _, opt := range proposed {
		switch opt.Name {
		case optTransferSize:
			n, err := parseOptionInt(opt.Value)
			if err != nil {
				continue
			}
			out.TSizeRequested = true
			if dir == DirRead {
				out.TransferSize = uint64(fileSize)
				echo = append(echo, TransferOption{Name: optTransferSize, Value: strconv.FormatInt(fileSize, 10)})
			} else {
				out.TransferSize = uint64(n)
				echo = append(echo, TransferOption{Name: optTransferSize, Value: strconv.Itoa(n)})
			}
		default:
			row, ok := lookupOption(opt.Name)
			if !ok {
				// Unknown option names are silently dropped (spec.md §4.2).
				continue
			}
			n, err := parseOptionInt(opt.Value)
			if err != nil {
				continue
			}
			accepted, echoIt := row.clamp(n, policy)
			switch opt.Name {
			case optBlockSize:
				out.BlockSize = accepted
			case optWindowSize:
				out.WindowSize = accepted
			case optTimeout:
				out.Timeout = accepted
			}
			if echoIt {
				echo = append(echo, TransferOption{Name: opt.Name, Value: strconv.Itoa(accepted)})
			}
		}
	}
	return out, echo
}
