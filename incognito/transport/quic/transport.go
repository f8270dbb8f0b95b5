// Package quic provides the Incognito transport: one QUIC connection per
// client, with a single bidirectional stream carrying framed messages.
// QUIC gives the persistent, ordered, reliable byte stream the protocol
// assumes; endpoint authenticity is established at the chat layer, not
// via PKI.
package quic

import (
	"context"
	"errors"
	"net"

	q "github.com/quic-go/quic-go"
)

var ErrNoStream = errors.New("quic: message stream not open")

// Conn is one client connection: a QUIC connection plus its message
// stream. It satisfies io.ReadWriteCloser for the protocol codec.
type Conn struct {
	conn   *q.Conn
	stream *q.Stream
}

func (c *Conn) Read(p []byte) (int, error) {
	if c.stream == nil {
		return 0, ErrNoStream
	}
	return c.stream.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.stream == nil {
		return 0, ErrNoStream
	}
	return c.stream.Write(p)
}

// Close tears down the stream and the connection. It is safe to call
// from either flow; the peer flow observes the close as stream end.
func (c *Conn) Close() error {
	if c.stream != nil {
		_ = c.stream.Close()
	}
	return c.conn.CloseWithError(0, "")
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// AcceptStream waits for the client to open its message stream. The
// server calls this once per accepted connection, off the accept loop.
func (c *Conn) AcceptStream(ctx context.Context) error {
	st, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return err
	}
	c.stream = st
	return nil
}

// Listener accepts Incognito client connections.
type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, &q.Config{})
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

// Accept returns the next connection. The message stream is not yet
// open; the per-connection handler calls AcceptStream.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

// Dial connects to the server and opens the message stream.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := q.DialAddr(ctx, addr, tlsConf, &q.Config{})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &Conn{conn: conn, stream: stream}, nil
}
