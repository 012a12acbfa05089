package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/notify"
)

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeMessage(w, http.StatusServiceUnavailable, "Status stream unavailable.")
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already answered the request.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newWSConn(conn, s.writeTimeout)
	defer c.Close() //nolint:errcheck // double close is harmless

	leave, err := s.deps.Hub.Subscribe(c)
	if err != nil {
		if errors.Is(err, notify.ErrHubClosed) {
			c.closeWith(ws.StatusGoingAway, "server shutting down")
		}
		return
	}
	defer leave()

	err = c.discardInbound()
	s.logger.Debug("websocket closed", zap.String("remote", r.RemoteAddr), zap.Error(err))
}

// wsConn adapts a server-side websocket to notify.FrameWriter. Every frame
// is written under mu so hub writes and control replies never interleave.
type wsConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newWSConn(conn net.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// WriteFrame sends one text frame.
func (c *wsConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline()
	if err := wsutil.WriteServerText(c.conn, data); err != nil {
		return fmt.Errorf("write text frame: %w", err)
	}
	return nil
}

// Close tears the connection down, ending the read loop.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) closeWith(code ws.StatusCode, reason string) {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline()
	_ = ws.WriteFrame(c.conn, frame)
}

func (c *wsConn) setDeadline() {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// discardInbound reads client frames until the connection fails, answering
// pings and close frames and dropping data frames.
func (c *wsConn) discardInbound() error {
	rd := &wsutil.Reader{
		Source:    c.conn,
		State:     ws.StateServerSide,
		CheckUTF8: true,
	}
	rd.OnIntermediate = c.handleControl
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return fmt.Errorf("discard frame: %w", err)
		}
	}
}

func (c *wsConn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	handler := wsutil.ControlHandler{Src: r, Dst: &reply, State: ws.StateServerSide}
	err := handler.Handle(hdr)
	if reply.Len() > 0 {
		c.mu.Lock()
		c.setDeadline()
		_, werr := c.conn.Write(reply.Bytes())
		c.mu.Unlock()
		if err == nil && werr != nil {
			err = fmt.Errorf("write control reply: %w", werr)
		}
	}
	return err
}
