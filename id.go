package gotftp

import "github.com/rs/xid"

// correlationID returns a short, sortable, collision-resistant label
// for tagging one worker's logs and metrics. It has nothing to do with
// the wire TID (spec.md §3's (remote_ip, remote_port) pair); it exists
// purely so a grep over server logs can follow one transfer end to end.
//
// Grounded on runZeroInc-sockstats/cmd/exporter_example2/main.go, which
// labels each tracked net.Conn with xid.New().String().
func correlationID() string {
	return xid.New().String()
}
