// Relay server daemon for the incognito chat protocol.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/incognito-chat/incognito/incognito/server"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "incognitod",
		Short: "Incognito chat relay daemon",
		Long: `incognitod registers usernames, pairs two endpoints into a private
session and routes their encrypted traffic. The relay never holds key
material: the endpoints negotiate their session key end to end.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile, address)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "",
		"path to the server configuration file (TOML format)")
	cmd.Flags().StringVarP(&address, "address", "a", "",
		"QUIC listen address (overrides the configuration file)")
	return cmd
}

func runDaemon(configFile, address string) error {
	var (
		cfg *server.Config
		err error
	)
	if configFile != "" {
		cfg, err = server.LoadFile(configFile)
		if err != nil {
			return err
		}
	} else {
		cfg = new(server.Config)
	}
	if address != "" {
		cfg.Address = address
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Printf("incognitod: listening on %s\n", srv.Addr())

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	<-haltCh

	fmt.Println("incognitod: shutting down")
	srv.Halt()
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
