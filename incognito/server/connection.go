package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/incognito-chat/incognito/incognito/protocol"
	"github.com/incognito-chat/incognito/incognito/queue"
	"github.com/incognito-chat/incognito/incognito/worker"
)

// conn handles one client connection: an inbound flow (readLoop) that
// dispatches frames into the registry and an outbound flow (writeLoop)
// that drains the FIFO in submission order.
type conn struct {
	worker.Worker

	registry *Registry
	rwc      io.ReadWriteCloser
	log      *logging.Logger
	out      *queue.Queue[protocol.Message]

	name       string // display name once registered
	registered bool

	closeOnce sync.Once
	doneCh    chan struct{}
}

func newConn(registry *Registry, rwc io.ReadWriteCloser, log *logging.Logger) *conn {
	return &conn{
		registry: registry,
		rwc:      rwc,
		log:      log,
		out:      queue.New[protocol.Message](),
		doneCh:   make(chan struct{}),
	}
}

// Send enqueues an outbound message; it never blocks, so the registry's
// critical section stays short even when this client reads slowly.
func (c *conn) Send(m protocol.Message) {
	_ = c.out.Push(m)
}

// run services the connection until it ends. Teardown happens exactly
// once no matter which flow observed the failure first.
func (c *conn) run() {
	c.Go(c.writeLoop)
	c.readLoop()
	c.close()
	c.Halt()
}

// close is the idempotent teardown: deregister, stop the outbound flow
// and release the transport.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.doneCh)
		c.registry.Remove(c)
		c.out.Close()
		_ = c.rwc.Close()
		c.log.Infof("connection for %q closed", c.displayName())
	})
}

func (c *conn) displayName() string {
	if c.name == "" {
		return "unauthenticated client"
	}
	return c.name
}

func (c *conn) readLoop() {
	for {
		m, err := protocol.ReadMessage(c.rwc)
		if err != nil {
			select {
			case <-c.doneCh:
				// We initiated the close; the stream ending is expected.
			default:
				if errors.Is(err, io.EOF) {
					c.log.Infof("%s disconnected", c.displayName())
				} else {
					c.log.Warningf("%s read failed: %v", c.displayName(), err)
				}
			}
			return
		}

		switch m.Kind {
		case protocol.KindControl:
			if done := c.handleControl(m.Control); done {
				return
			}
		case protocol.KindChat:
			if !c.registered {
				c.Send(protocol.ControlMessage(errRegisterFirst))
				continue
			}
			c.registry.RouteEnvelope(c, m.Envelope)
		case protocol.KindHandshake:
			if !c.registered {
				c.Send(protocol.ControlMessage(errRegisterFirst))
				continue
			}
			c.registry.RouteHandshake(c, m.Handshake)
		}
	}
}

// handleControl processes one control-plane command. The first accepted
// command on a connection must be the USERLIST registration; a rejected
// name keeps the connection open so the client can retry.
func (c *conn) handleControl(cmd string) (done bool) {
	if !c.registered {
		name, found := strings.CutPrefix(cmd, protocol.CmdRegister)
		if !found {
			c.Send(protocol.ControlMessage(protocol.PrefixError +
				fmt.Sprintf("Expected %s<name>, got %q.", protocol.CmdRegister, cmd)))
			return false
		}
		if c.registry.Register(c, strings.TrimSpace(name)) {
			c.name = strings.TrimSpace(name)
			c.registered = true
		}
		return false
	}

	switch {
	case strings.HasPrefix(cmd, protocol.CmdPrivateChat):
		_, pairKey, ok := protocol.SplitPrivateChat(cmd)
		if !ok {
			c.Send(protocol.ControlMessage(protocol.PrefixError +
				"Invalid PRIVATE_CHAT command. Expected PRIVATE_CHAT:<name>:<pairKey>."))
			return false
		}
		c.registry.RequestPairing(c, pairKey)
	case strings.EqualFold(cmd, protocol.CmdRequestUserList):
		c.registry.BroadcastRoster()
	case strings.HasPrefix(cmd, protocol.CmdDisconnect):
		c.log.Infof("%s requested disconnect", c.displayName())
		return true
	default:
		c.log.Infof("unhandled command from %s: %q", c.displayName(), cmd)
	}
	return false
}

func (c *conn) writeLoop() {
	for {
		m, ok := c.out.Pop(c.HaltCh())
		if !ok {
			return
		}
		if err := protocol.WriteMessage(c.rwc, m); err != nil {
			select {
			case <-c.doneCh:
			default:
				c.log.Warningf("%s write failed: %v", c.displayName(), err)
			}
			c.close()
			return
		}
	}
}
