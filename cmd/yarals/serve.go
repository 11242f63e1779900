package main

import (
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"yarals/internal/langserver"
	"yarals/internal/resolve"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve navigation over JSON-RPC on a TCP port",
	Long: `Run the built-in language server. It speaks the same Content-Length framed
JSON-RPC as the companion and answers definition, references and
documentSymbol requests until interrupted.

Examples:
  yarals serve
  yarals serve --host 0.0.0.0 --port 8471 -vv`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := newContext()
	defer cancel()

	host, port := env.cfg.Server.Host, env.cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}

	srv := langserver.NewServer(resolve.New(env.cfg.Resolve.Sigils), env.logger.With("component", "langserver"))
	return srv.ListenAndServe(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}
