// Interactive terminal client for the incognito chat protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/incognito-chat/incognito/incognito/client"
)

const dialTimeout = 15 * time.Second

func newRootCommand() *cobra.Command {
	var (
		serverAddr string
		name       string
		peer       string
		guardTTL   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "incognito",
		Short: "Private two-party encrypted chat",
		Long: `incognito connects to a relay, registers a username and chats with
exactly one peer over an end-to-end encrypted session. The relay only
routes opaque frames; the session key never leaves the two endpoints.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(serverAddr, name, peer, guardTTL)
		},
	}

	cmd.Flags().StringVarP(&serverAddr, "server", "s", "127.0.0.1:5125",
		"relay address")
	cmd.Flags().StringVarP(&name, "name", "n", "",
		"username to register (prompted when empty)")
	cmd.Flags().StringVarP(&peer, "peer", "p", "",
		"peer to request a private chat with on startup")
	cmd.Flags().DurationVar(&guardTTL, "guard-ttl", client.DefaultGuardTTL,
		"how long an unanswered key exchange blocks its pair")
	return cmd
}

func runChat(serverAddr, name, peer string, guardTTL time.Duration) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	events := client.Events{
		OnMessage: func(sender, text string) {
			fmt.Printf("\r%s: %s\n", sender, text)
		},
		OnRosterUpdate: func(names []string) {
			fmt.Printf("\r* available: %s\n", strings.Join(names, ", "))
		},
		OnPeerConnected: func(peer, pairKey string) {
			fmt.Printf("\r* paired with %s (session %s), exchanging keys\n", peer, pairKey)
		},
		OnChatReady: func(peer string) {
			fmt.Printf("\r* secure channel with %s is ready\n", peer)
		},
		OnPeerDisconnected: func(peer string) {
			fmt.Printf("\r* %s left; the session key was discarded\n", peer)
		},
		OnServerNotification: func(text string) {
			fmt.Printf("\r* %s\n", text)
		},
	}

	c, err := dialWithRetry(line, serverAddr, name, events, &client.Options{GuardTTL: guardTTL})
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("* registered as %s, key fingerprint %s\n", c.Name(), c.Fingerprint())
	fmt.Println("* commands: /chat <peer>, /users, /quit")

	if peer != "" {
		if _, err := c.RequestPairing(peer); err != nil {
			return err
		}
	}

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl-C or EOF ends the session.
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch {
		case input == "/quit":
			return nil
		case input == "/users":
			if err := c.RequestRoster(); err != nil {
				return err
			}
		case strings.HasPrefix(input, "/chat "):
			target := strings.TrimSpace(strings.TrimPrefix(input, "/chat "))
			if target == "" {
				fmt.Println("* usage: /chat <peer>")
				continue
			}
			if _, err := c.RequestPairing(target); err != nil {
				return err
			}
		default:
			if err := c.SendText(input); err != nil {
				if errors.Is(err, client.ErrNoSessionKey) {
					fmt.Println("* no secure channel yet; use /chat <peer> first")
					continue
				}
				return err
			}
		}
	}
	return nil
}

// dialWithRetry registers with the relay, re-prompting for a username as
// long as the server rejects it as taken.
func dialWithRetry(line *liner.State, serverAddr, name string, events client.Events, opts *client.Options) (*client.Client, error) {
	for {
		if name == "" {
			input, err := line.Prompt("username: ")
			if err != nil {
				return nil, err
			}
			name = strings.TrimSpace(input)
			if name == "" {
				continue
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := client.Dial(ctx, serverAddr, name, events, opts)
		cancel()
		if errors.Is(err, client.ErrNameTaken) {
			fmt.Printf("* username %q is taken\n", name)
			name = ""
			continue
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
