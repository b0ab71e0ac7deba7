package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/runtime"
	"github.com/thomasrohde/dplang/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var pkgPaths []string
	var window int
	cmd := &cobra.Command{
		Use:   "serve [script.dp]",
		Short: "Stream rows through a script over websocket",
		Long: `Compiles the script once and serves it on ws://<addr>/ws. Every
connection gets its own interpreter instance and history.

Client messages:
  {"type": "row", "payload": {"close": 10.5}}
  {"type": "reset"}
  {"type": "ping"}

Server messages: hello, output, skip, halted, reset, error, pong.
GET /healthz reports liveness.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("package-path") {
				a.cfg.Task.PackagePaths = pkgPaths
			}
			if cmd.Flags().Changed("window") {
				a.cfg.Task.Window = window
			}
			if err := a.cfg.Validate(); err != nil {
				return a.fail(cmd, ExitUsage, configDiag(err))
			}

			script, err := a.scriptArg(args)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			source, filename, err := a.loadSource(cmd, script)
			if err != nil {
				return err
			}
			rt := runtime.New(
				runtime.WithLogger(a.logger),
				runtime.WithWindow(a.cfg.Task.Window),
				runtime.WithPackagePaths(a.cfg.Task.PackagePaths...),
			)
			prog, err := rt.Compile(source, filename)
			if err != nil {
				return a.failErr(cmd, err)
			}
			a.printDiagnostics(cmd.ErrOrStderr(), prog.Warnings())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := server.New(prog, a.logger).ListenAndServe(ctx, a.cfg.Server.Addr); err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config: 127.0.0.1:8765)")
	cmd.Flags().StringSliceVar(&pkgPaths, "package-path", nil, "directories searched for imported packages")
	cmd.Flags().IntVar(&window, "window", 0, "history rows kept per column")
	return cmd
}
