// Package conn owns one client socket and drives its
// read-parse-dispatch-write loop until the peer closes, turning parsed
// resp.Frame arrays into command.Command values and replies.
package conn

import (
	"errors"
	"fmt"
	"net"

	"github.com/epokhe/kvresp/internal/command"
	"github.com/epokhe/kvresp/internal/resp"
)

// ErrConnReset is returned by ReadFrame when the peer's socket reports a
// zero-byte read while bytes from a previous read are still buffered and
// unparsed — a clean close never leaves a partial frame behind.
var ErrConnReset = errors.New("conn: connection reset by peer")

const readChunk = 4096

// Connection owns a net.Conn and a growable receive buffer. Frames are
// parsed out of the buffer incrementally: Check confirms completeness
// before Parse ever materializes a frame, so a short read never produces a
// partial result.
type Connection struct {
	nc  net.Conn
	buf []byte
}

// New wraps nc for frame-at-a-time reads and writes.
func New(nc net.Conn) *Connection {
	return &Connection{nc: nc}
}

// ReadFrame returns the next complete frame from the connection, reading
// more bytes as needed. It returns (nil, nil) on a clean peer close, and
// ErrConnReset if the peer closes mid-frame. A malformed frame (as opposed
// to merely incomplete) is returned as an error wrapping resp.ErrMalformed
// and the buffer is left as-is, since there is nothing further to read
// that would fix it — the caller should reply and close.
func (c *Connection) ReadFrame() (*resp.Frame, error) {
	readBuf := make([]byte, readChunk)
	for {
		frame, consumed, err := c.tryParse()
		if err == nil {
			c.buf = c.buf[consumed:]
			return frame, nil
		}
		if !errors.Is(err, resp.ErrIncomplete) {
			return nil, err
		}

		n, rerr := c.nc.Read(readBuf)
		if n == 0 {
			if len(c.buf) == 0 {
				return nil, nil
			}
			return nil, ErrConnReset
		}
		c.buf = append(c.buf, readBuf[:n]...)
		if rerr != nil {
			// bytes arrived alongside an error (e.g. EOF on the same read);
			// loop once more so the freshly buffered bytes get a parse
			// attempt before the connection is torn down on the next read.
			continue
		}
	}
}

// tryParse runs Check then Parse against the current buffer, reporting how
// many bytes the frame consumed so the caller can advance past it.
func (c *Connection) tryParse() (*resp.Frame, int, error) {
	checkCur := resp.NewCursor(c.buf)
	if err := resp.Check(checkCur); err != nil {
		return nil, 0, err
	}

	parseCur := resp.NewCursor(c.buf)
	frame, err := resp.Parse(parseCur)
	if err != nil {
		return nil, 0, err
	}
	return &frame, parseCur.Pos(), nil
}

// WriteFrame serializes and writes f in a single call, which is also a
// flush: there is no intermediate buffering layer to hold it back.
func (c *Connection) WriteFrame(f resp.Frame) error {
	buf := resp.Write(nil, f)
	_, err := c.nc.Write(buf)
	return err
}

// Serve drives one connection's request loop until the peer closes or an
// unrecoverable error occurs. It is the per-connection handler spawned by
// the server's accept loop.
func Serve(nc net.Conn, shared *SharedStore) {
	defer nc.Close()

	c := New(nc)
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if errors.Is(err, resp.ErrMalformed) {
				_ = c.WriteFrame(resp.NewError(fmt.Sprintf("ERR %v", err)))
			}
			return
		}
		if frame == nil {
			return // clean close
		}

		cmd, err := command.FromFrame(*frame)
		if err != nil {
			if werr := c.WriteFrame(resp.NewError(fmt.Sprintf("ERR %v", err))); werr != nil {
				return
			}
			continue
		}

		reply := shared.Execute(cmd)
		if err := c.WriteFrame(reply); err != nil {
			return
		}
	}
}
