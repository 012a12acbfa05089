package tracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is an open push channel delivering text frames.
type Conn interface {
	ReadText() ([]byte, error)
	Close() error
}

// Dialer opens push channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials the push channel over websocket.
type WSDialer struct {
	APIKey string
}

// Dial performs the websocket handshake against url.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := ws.Dialer{}
	if d.APIKey != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{"X-API-Key": []string{d.APIKey}})
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	wc := &wsConn{conn: conn, rw: conn}
	if br != nil {
		// The handshake reader may already hold the first frames.
		wc.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	return wc, nil
}

type wsConn struct {
	conn net.Conn
	rw   io.ReadWriter
}

// ReadText blocks until the next text frame, answering pings on the way.
func (c *wsConn) ReadText() ([]byte, error) {
	return wsutil.ReadServerText(c.rw)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
