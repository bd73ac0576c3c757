package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/internal/version"
	"github.com/hrygo/valet/server"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db"
)

const (
	exitOK = iota
	exitFailure
	exitUsage
	exitCredential
)

// exitError carries a process exit code through cobra's RunE chain.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "valet",
	Short:         "A self-hosted personal AI assistant: chat, reminders, memory, and approvals over a local inference backend.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution; under systemd the
		// unit file provides the environment.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		if cfg := viper.GetString("config"); cfg != "" {
			viper.SetConfigFile(cfg)
			if err := viper.ReadInConfig(); err != nil {
				return exitf(exitUsage, "failed to read config %s: %v", cfg, err)
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return exitf(exitUsage, "invalid configuration: %v", err)
		}
		setupLogger(p)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		driver, err := db.NewDBDriver(p)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return exitf(exitFailure, "failed to create db driver: %v", err)
		}
		st := store.New(driver, p)

		s, err := server.NewServer(ctx, p, st)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return exitf(exitFailure, "failed to create server: %v", err)
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal of most process
		// managers (systemd, kubernetes, `kill`).
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			slog.Info("termination signal received")
			// Stop the periodic tasks first; Shutdown drains HTTP with
			// its own grace window and then waits for them.
			cancel()
			s.Shutdown(context.Background())
		}()

		printGreetings(p)
		if err := s.Start(ctx); err != nil {
			slog.Error("server failed", "error", err)
			return exitf(exitFailure, "server failed: %v", err)
		}
		return nil
	},
}

// loadProfile freezes the resolved configuration and applies the
// sqlite data-directory convention for an empty DSN.
func loadProfile() (*profile.Profile, error) {
	p := profile.FromViper(viper.GetViper(), version.String())
	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		p.DSN = filepath.Join(p.Data, fmt.Sprintf("valet_%s.db", p.Mode))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func setupLogger(p *profile.Profile) {
	var handler slog.Handler
	if p.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Valet %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.Addr == "" {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func init() {
	v := viper.GetViper()
	profile.SetDefaults(v)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config file (yaml)")
	pf.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	pf.String("addr", "", "address of server")
	pf.Int("port", 28484, "port of server")
	pf.String("data", "", "data directory")
	pf.String("driver", "sqlite", "database driver (sqlite, postgres)")
	pf.String("dsn", "", "database source name (aka. DSN)")

	for flag, key := range map[string]string{
		"config": "config",
		"mode":   "mode",
		"addr":   "server.addr",
		"port":   "server.port",
		"data":   "data",
		"driver": "driver",
		"dsn":    "dsn",
	} {
		if err := viper.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("valet")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if ee, ok := err.(*exitError); ok {
		os.Exit(ee.code)
	}
	os.Exit(exitFailure)
}
