package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/overture/internal/eventbridge"
	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/mcpserver"
	"github.com/kingrea/overture/internal/tui"
)

func newServeCmd(opts *options) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP event bridge",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			settings := eventbridge.SettingsFromConfig(rt.cfg)
			settings.Enabled = true
			if cmd.Flags().Changed("host") {
				settings.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := eventbridge.NewServer(settings,
				eventbridge.WithLogger(rt.logger),
				eventbridge.WithProcessor(eventbridge.NewProcessor(rt.coord, rt.recoverer)),
			)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Sprintf("event bridge listening on %s", srv.BaseURL()))
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
	cmd.Flags().StringVar(&host, "host", eventbridge.DefaultHost, "Bind host")
	cmd.Flags().IntVar(&port, "port", eventbridge.DefaultPort, "Bind port")
	return cmd
}

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipeline tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			return mcpserver.New(rt.coord, rt.recoverer, version, rt.logger).ServeStdio()
		}),
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [session]",
		Short: "Watch a pipeline in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(opts, func(cmd *cobra.Command, rt *runtime, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			// stderr output would tear the alt screen.
			logger := logging.NewNop()
			if rt.fileLogger != nil {
				logger = rt.fileLogger
			}
			app := tui.NewApp(rt.cfg.Workspace, sessionID, tui.WithLogger(logger))
			_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
			return err
		}),
	}
}
