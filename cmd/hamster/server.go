package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/hamster-ime/hamster/internal/api"
	"github.com/hamster-ime/hamster/internal/config"
	"github.com/hamster-ime/hamster/internal/keyboard"
	"github.com/hamster-ime/hamster/internal/prefs"
	"github.com/hamster-ime/hamster/internal/rime"
	"github.com/hamster-ime/hamster/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keyboard session and the preferences API (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and store status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hamster.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "hamster version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	idiom, err := keyboard.ParseIdiom(cfg.Keyboard.Idiom)
	if err != nil {
		return err
	}

	apiToken, err := config.APIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice against the same port.
	dataDir := cfg.DataDir()
	pidPath := pidFilePath(dataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("hamster is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("something is already listening on port %d", cfg.Server.Port)
		return fmt.Errorf("port %d in use", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	store, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	adapter := prefs.NewAdapter(store,
		prefs.WithInstanceID("serve-"+uuid.NewString()),
		prefs.WithWriteBehind(cfg.Prefs.WriteBehind),
	)
	p := prefs.New(adapter)
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("flushing preferences", "error", err)
		}
	}()

	kb := keyboard.NewController(p, rime.NewHeadless(slog.Default()), idiom,
		keyboard.OnUpdate(func(c keyboard.Context) {
			slog.Info("keyboard context updated",
				"input_schema", c.InputSchema, "page_size", c.PageSize, "color_schema", c.ColorSchema)
		}),
	)
	kb.Start()

	handler := api.NewHandler(api.Deps{
		Prefs:    p,
		Keyboard: kb,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	g, gCtx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return gCtx
		},
	}

	g.Go(func() error {
		return kb.Run(gCtx)
	})

	// Writes from other processes reach the session without an explicit reload.
	g.Go(func() error {
		err := storage.Watch(gCtx, dataDir, 200*time.Millisecond, func() { p.Reload() })
		if err != nil {
			slog.Warn("store watcher stopped, other processes' writes need an explicit reload", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("hamster listening", "addr", addr, "data_dir", dataDir, "idiom", idiom)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Prefs: p, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.DataDir())
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("hamster is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop hamster (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to hamster (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if client := daemonClient(ctx); client != nil {
		printStatus("Daemon", "running on port %d", cfg.Server.Port)

		resp, err := client.get(ctx, "/keyboard/context")
		if err == nil {
			var kc keyboard.Context
			if decodeJSON(resp, &kc) == nil {
				printStatus("Idiom", "%s", kc.Idiom)
				printStatus("Input schema", "%s", orDefault(kc.InputSchema))
				printStatus("Color schema", "%s", orDefault(kc.ColorSchema))
				printStatus("Page size", "%d", kc.PageSize)
				printStatus("Slide gestures", "%d", len(kc.Gestures))
			}
		}
	} else {
		printStatus("Daemon", "stopped")
	}

	dataDir := cfg.DataDir()
	printStatus("Data dir", "%s", dataDir)

	if _, err := os.Stat(filepath.Join(dataDir, storage.FileName)); err != nil {
		printStatus("Store", "not created yet")
		return nil
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		printStatus("Store", "error: %v", err)
		return nil
	}
	defer store.Close()
	stored, err := store.ListPreferences()
	if err != nil {
		printStatus("Store", "error: %v", err)
		return nil
	}
	printStatus("Store", "%d of %d preferences set", len(stored), len(prefs.Settings()))

	var last storage.Preference
	for _, sp := range stored {
		if sp.UpdatedAt.After(last.UpdatedAt) {
			last = sp
		}
	}
	if last.Key != "" {
		printStatus("Last write", "%s %s by %s", last.Key, humanize.Time(last.UpdatedAt), last.UpdatedBy)
	}
	return nil
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}
