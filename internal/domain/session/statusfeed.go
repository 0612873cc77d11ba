package session

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Line prefixes of the status feed (status-version 2).
const (
	headerClients = "HEADER,CLIENT_LIST"
	headerRoutes  = "HEADER,ROUTING_TABLE"
	globalStats   = "GLOBAL_STATS"
	endMarker     = "END"
	recordClient  = "CLIENT_LIST,"
	recordRoute   = "ROUTING_TABLE,"

	minClientFields = 8
	minRouteFields  = 3

	// maxLineBytes bounds one feed line; longer lines are dropped whole.
	maxLineBytes = 64 * 1024
)

// connectedSinceLayouts are tried in order when parsing the connected-since field.
var connectedSinceLayouts = []string{
	time.ANSIC,            // Mon Jan  2 15:04:05 2006
	"2006-01-02 15:04:05", // status-version 3 / newer servers
	time.RFC3339,
}

// Client is one CLIENT_LIST record.
type Client struct {
	CommonName    string
	RealAddress   string
	BytesReceived int64
	BytesSent     int64
	Since         *time.Time
}

// Feed is the parsed content of a status feed. Clients and Routes are keyed
// by common name; a later record for the same name replaces an earlier one.
type Feed struct {
	Clients map[string]Client
	Routes  map[string]string // common name -> virtual address
	Skipped int               // records dropped for too few fields or excessive length
}

type mode int

const (
	modeNone mode = iota
	modeClients
	modeRoutes
)

// ParseFeed reads a status feed. Unknown lines are ignored; short and
// over-long records are counted in Skipped. Only a read error from r is
// returned.
func ParseFeed(r io.Reader, loc *time.Location) (*Feed, error) {
	if loc == nil {
		loc = time.UTC
	}
	feed := &Feed{
		Clients: make(map[string]Client),
		Routes:  make(map[string]string),
	}

	br := bufio.NewReaderSize(r, 4096)

	m := modeNone
	for {
		line, tooLong, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tooLong {
			if m != modeNone {
				feed.Skipped++
			}
			continue
		}
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, headerClients):
			m = modeClients
			continue
		case strings.HasPrefix(line, headerRoutes):
			m = modeRoutes
			continue
		case strings.HasPrefix(line, globalStats), line == endMarker:
			m = modeNone
			continue
		}

		switch m {
		case modeClients:
			if !strings.HasPrefix(line, recordClient) {
				continue
			}
			f := strings.Split(line, ",")
			if len(f) < minClientFields {
				feed.Skipped++
				continue
			}
			feed.Clients[f[1]] = Client{
				CommonName:    f[1],
				RealAddress:   f[2],
				BytesReceived: parseCounter(f[5]),
				BytesSent:     parseCounter(f[6]),
				Since:         parseSince(f[7], loc),
			}
		case modeRoutes:
			if !strings.HasPrefix(line, recordRoute) {
				continue
			}
			f := strings.Split(line, ",")
			if len(f) < minRouteFields {
				feed.Skipped++
				continue
			}
			feed.Routes[f[2]] = f[1]
		}
	}
	return feed, nil
}

// readLine returns the next line without its newline. A line longer than
// maxLineBytes is consumed to its end and reported with tooLong set. io.EOF
// is returned only when no bytes were left.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// parseCounter reads a byte counter; anything unparsable counts as zero.
func parseCounter(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseSince(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range connectedSinceLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

// hostPart splits addr on the first colon.
func hostPart(addr string) string {
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
