package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/stackctl"
	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/history"
	ch "github.com/loykin/stackctl/internal/history/clickhouse"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/store"
	storefactory "github.com/loykin/stackctl/internal/store/factory"
	"github.com/loykin/stackctl/internal/supervisor"
)

type command struct {
	flags *GlobalFlags
}

// setup loads config, applies flag overrides, and assembles the
// supervisor with its store and history sinks.
func (c command) setup() (*config.Config, *supervisor.Supervisor, func(), error) {
	cfg, err := config.Load(c.flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.flags.BackendPort > 0 {
		cfg.Backend.Port = c.flags.BackendPort
	}
	if c.flags.FrontendPort > 0 {
		cfg.Frontend.Port = c.flags.FrontendPort
	}

	level := slog.LevelInfo
	if c.flags.Verbose {
		level = slog.LevelDebug
	}
	log := logger.New(level, true)

	st, err := storefactory.New(storeConfigOrDefault(cfg))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open handle store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, nil, nil, fmt.Errorf("handle store schema: %w", err)
	}

	var sinks []history.Sink
	cleanup := func() { _ = st.Close() }
	if hc := cfg.History.ClickHouse; hc != nil && hc.Addr != "" {
		sink, err := ch.New(hc.Addr, tableOr(hc.Table))
		if err != nil {
			// History is best-effort; a missing sink never blocks operations.
			log.Warn("clickhouse history sink unavailable", "error", err)
		} else {
			if err := sink.EnsureSchema(context.Background()); err != nil {
				log.Warn("clickhouse schema setup failed", "error", err)
			}
			sinks = append(sinks, sink)
			prev := cleanup
			cleanup = func() { _ = sink.Close(); prev() }
		}
	}

	frontend := cfg.FrontendDescriptor()
	if frontend.Command == "" {
		frontend.Command = selfFrontendCommand(cfg, frontend.Port)
	}

	sup := supervisor.New(supervisor.Config{
		Backend:     cfg.BackendDescriptor(),
		Frontend:    frontend,
		Store:       st,
		Sinks:       sinks,
		Logger:      log,
		DrainConfig: cfg.DrainConfig(),
	})
	_ = stackctl.RegisterMetricsDefault()
	return cfg, sup, cleanup, nil
}

func storeConfigOrDefault(cfg *config.Config) store.Config {
	sc := cfg.Store
	if sc.Type == "" && sc.Path == "" {
		sc = store.Config{Type: "sqlite", Path: defaultStorePath()}
	}
	return sc
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "stackctl.db"
	}
	return dir + "/stackctl/handles.db"
}

func tableOr(t string) string {
	if t == "" {
		return "stackctl_events"
	}
	return t
}

// selfFrontendCommand builds the default frontend start command: this
// binary serving the static directory, mirroring how the stack ships a
// frontend server alongside the supervisor.
func selfFrontendCommand(cfg *config.Config, port int) string {
	exe, err := os.Executable()
	if err != nil {
		exe = "stackctl"
	}
	return fmt.Sprintf("%s frontend --addr :%d --dir %s", exe, port, cfg.Frontend.Dir)
}

func createStartCommand(c command, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the backend and frontend services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sup, cleanup, err := c.setup()
			if err != nil {
				return err
			}
			defer cleanup()
			started, err := sup.Start(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(started)
			if f.Open {
				openBrowser(fmt.Sprintf("http://localhost:%d", cfg.Frontend.Port))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.Open, "open", false, "open the frontend in a browser")
	return cmd
}

func createStopCommand(c command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop both services, draining the backend first unless --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sup, cleanup, err := c.setup()
			if err != nil {
				return err
			}
			defer cleanup()
			res, err := sup.Stop(cmd.Context(), !f.Force)
			if err != nil {
				return err
			}
			printJSON(res)
			switch {
			case res.Drained():
				fmt.Printf("stopped: backend drained cleanly in %s\n", res.Elapsed.Round(time.Second))
			case res.Graceful && res.Outcome != "":
				fmt.Printf("stopped: drain %s, forced after %s\n", res.Outcome, res.Elapsed.Round(time.Second))
			default:
				fmt.Printf("stopped in %s\n", res.Elapsed.Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.Force, "force", false, "terminate immediately without draining")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show liveness and process handles for both services",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sup, cleanup, err := c.setup()
			if err != nil {
				return err
			}
			defer cleanup()
			printJSON(sup.Status(cmd.Context()))
			return nil
		},
	}
}

func createOpenCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the frontend in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.flags.ConfigPath)
			if err != nil {
				return err
			}
			port := cfg.Frontend.Port
			if c.flags.FrontendPort > 0 {
				port = c.flags.FrontendPort
			}
			openBrowser(fmt.Sprintf("http://localhost:%d", port))
			return nil
		},
	}
}

func createFrontendCommand(c command, f *FrontendFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Serve the static frontend directory (long-running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := stackctl.NewFrontendServer(f.Addr, f.Dir)
			fmt.Printf("frontend serving %s on %s\n", f.Dir, f.Addr)
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return srv.Close()
		},
	}
	cmd.Flags().StringVar(&f.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&f.Dir, "dir", "frontend", "static directory")
	return cmd
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Printf("open %s in your browser\n", url)
	}
}
