package incognito

import (
	"context"

	"github.com/incognito-chat/incognito/incognito/client"
	"github.com/incognito-chat/incognito/incognito/server"
)

// Relay is a high-level helper around the relay server.
// It intentionally stays small so applications can configure logging and
// lifecycle themselves when they need more control.
type Relay struct {
	srv *server.Server
}

// StartRelay builds a server from cfg and starts listening.
func StartRelay(cfg *server.Config) (*Relay, error) {
	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return &Relay{srv: srv}, nil
}

// Addr returns the bound listen address.
func (r *Relay) Addr() string {
	return r.srv.Addr()
}

// Halt shuts the relay and all its connections down.
func (r *Relay) Halt() {
	r.srv.Halt()
}

// Connect dials a relay, registers name and returns a ready client.
func Connect(ctx context.Context, addr, name string, events client.Events) (*client.Client, error) {
	return client.Dial(ctx, addr, name, events, nil)
}
