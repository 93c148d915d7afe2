package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxDatagram is comfortably above the engine's log line limit; anything
// larger is truncated by the socket, never reassembled.
const maxDatagram = 4096

// Datagram is one cleaned log line with its UDP source.
type Datagram struct {
	Line       string
	SourceAddr string
	SourcePort int
	ReceivedAt time.Time
}

// DatagramHandler consumes received datagrams.
type DatagramHandler interface {
	Handle(d Datagram)
}

// Receiver binds a UDP socket and feeds cleaned datagrams to a handler.
type Receiver struct {
	host    string
	port    int
	handler DatagramHandler
	logger  *zap.SugaredLogger

	conn *net.UDPConn
}

func NewReceiver(host string, port int, handler DatagramHandler, logger *zap.SugaredLogger) *Receiver {
	return &Receiver{host: host, port: port, handler: handler, logger: logger}
}

// Run binds the socket and blocks reading datagrams until ctx is
// cancelled. The socket is closed on cancellation, which unblocks the
// read loop.
func (r *Receiver) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.host), Port: r.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind udp %s:%d: %w", r.host, r.port, err)
	}
	r.conn = conn
	r.logger.Infow("Ingress socket bound", "host", r.host, "port", r.port)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warnw("UDP read failed", "error", err)
			continue
		}

		line := CleanPayload(buf[:n])
		if line == "" {
			continue
		}

		r.handler.Handle(Datagram{
			Line:       line,
			SourceAddr: remote.IP.String(),
			SourcePort: remote.Port,
			ReceivedAt: time.Now(),
		})
	}
}

// CleanPayload strips engine framing from a raw datagram: the four-byte
// OOB header plus any following non-printable header bytes (covers both
// the GoldSrc `\xff\xff\xff\xffRlog ` and Source `\xff\xff\xff\xffS`
// forms), embedded NULs, surrounding whitespace and a leading `log `
// token. Returns "" when nothing remains.
func CleanPayload(b []byte) string {
	oob := false
	if len(b) >= 4 && b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF {
		oob = true
		b = b[4:]
		for len(b) > 0 && b[0] > 0x7E {
			b = b[1:]
		}
	}

	// Drop embedded NULs; a trailing NUL terminates the payload anyway.
	cleaned := make([]byte, 0, len(b))
	for _, c := range b {
		if c != 0 {
			cleaned = append(cleaned, c)
		}
	}

	line := strings.TrimSpace(string(cleaned))
	if oob && len(line) >= 2 && (line[0] == 'R' || line[0] == 'S') && line[1] == ' ' {
		// Engine type marker between the OOB header and the payload.
		line = strings.TrimSpace(line[2:])
	}
	line = strings.TrimPrefix(line, "log ")
	return strings.TrimSpace(line)
}
