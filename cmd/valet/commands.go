package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrygo/valet/server/auth"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db"
)

// apiClient is the thin HTTP client behind the status/chat/command
// subcommands. It talks to a running instance, never to the store.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(cmd *cobra.Command) *apiClient {
	url, _ := cmd.Flags().GetString("server-url")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("VALET_TOKEN")
	}
	return &apiClient{
		baseURL: url,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return exitf(exitFailure, "failed to encode request: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return exitf(exitUsage, "invalid server url: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return exitf(exitFailure, "request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return exitf(exitFailure, "failed to read response: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return exitf(exitCredential, "authentication failed: %s", strippedBody(raw))
	case resp.StatusCode >= 400:
		return exitf(exitFailure, "server returned %d: %s", resp.StatusCode, strippedBody(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return exitf(exitFailure, "failed to decode response: %v", err)
		}
	}
	return nil
}

func strippedBody(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(raw))
}

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		return nil
	}
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server-url", "http://localhost:28484", "base url of the running instance")
	cmd.Flags().String("token", "", "bearer credential (defaults to VALET_TOKEN)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show version, mode, and breaker state of a running instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out struct {
			Version      string `json:"version"`
			Mode         string `json:"mode"`
			Driver       string `json:"driver"`
			BreakerState string `json:"breaker_state"`
		}
		client := newAPIClient(cmd)
		if err := client.do(cmd.Context(), http.MethodGet, "/v1/system/status", nil, &out); err != nil {
			return err
		}
		fmt.Printf("Version:  %s\n", out.Version)
		fmt.Printf("Mode:     %s\n", out.Mode)
		fmt.Printf("Driver:   %s\n", out.Driver)
		fmt.Printf("Breaker:  %s\n", out.BreakerState)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <text>",
	Short: "Send one chat turn and print the assistant reply",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, _ := cmd.Flags().GetString("conversation")
		var out struct {
			ConversationID string `json:"conversation_id"`
			Reply          string `json:"reply"`
			Degraded       bool   `json:"degraded"`
		}
		client := newAPIClient(cmd)
		req := map[string]string{"message": args[0], "conversation_id": conversationID}
		if err := client.do(cmd.Context(), http.MethodPost, "/v1/chat", req, &out); err != nil {
			return err
		}
		fmt.Println(out.Reply)
		if out.Degraded {
			fmt.Fprintln(os.Stderr, "(degraded response)")
		}
		fmt.Fprintf(os.Stderr, "conversation: %s\n", out.ConversationID)
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:   "command <text>",
	Short: "Parse and dispatch one command phrase",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Kind       string  `json:"kind"`
			Confidence float64 `json:"confidence"`
			Queued     bool    `json:"queued"`
			ApprovalID string  `json:"approval_id"`
			Reply      string  `json:"reply"`
		}
		client := newAPIClient(cmd)
		req := map[string]string{"text": args[0]}
		if err := client.do(cmd.Context(), http.MethodPost, "/v1/commands", req, &out); err != nil {
			return err
		}
		fmt.Printf("%s (confidence %.2f)\n", out.Kind, out.Confidence)
		if out.Queued {
			fmt.Printf("queued for approval: %s\n", out.ApprovalID)
		}
		if out.Reply != "" {
			fmt.Println(out.Reply)
		}
		return nil
	},
}

var hashCredentialCmd = &cobra.Command{
	Use:   "hash-credential <plaintext>",
	Short: "Derive the argon2id digest for a credential, or verify one",
	Long: `Derives the argon2id digest to put into security.credentials.
The plaintext is never stored; only the digest is printed.
With --verify, checks the plaintext against an existing digest instead.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, _ := cmd.Flags().GetString("verify")
		if digest != "" {
			ok, err := auth.VerifyCredential(args[0], digest)
			if err != nil {
				return exitf(exitUsage, "malformed digest: %v", err)
			}
			if !ok {
				return exitf(exitCredential, "credential does not match digest")
			}
			fmt.Println("ok")
			return nil
		}
		encoded, err := auth.HashCredential(args[0])
		if err != nil {
			return exitf(exitFailure, "failed to hash credential: %v", err)
		}
		fmt.Println(encoded)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent snapshot of the sqlite database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return exitf(exitUsage, "--output is required")
		}
		p, err := loadProfile()
		if err != nil {
			return exitf(exitUsage, "invalid configuration: %v", err)
		}
		if p.Driver != "sqlite" {
			return exitf(exitUsage, "backup supports the sqlite driver only; use pg_dump for postgres")
		}
		if _, err := os.Stat(output); err == nil {
			return exitf(exitUsage, "refusing to overwrite %s", output)
		}
		sqliteDB, err := sql.Open("sqlite", p.DSN)
		if err != nil {
			return exitf(exitFailure, "failed to open database: %v", err)
		}
		defer sqliteDB.Close()
		// Fold the WAL into the main file, then snapshot into a fresh,
		// compacted copy. VACUUM INTO is transactional, so the snapshot
		// is consistent even with a server running.
		if _, err := sqliteDB.ExecContext(cmd.Context(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return exitf(exitFailure, "wal checkpoint failed: %v", err)
		}
		if _, err := sqliteDB.ExecContext(cmd.Context(), "VACUUM INTO ?", output); err != nil {
			return exitf(exitFailure, "backup failed: %v", err)
		}
		fmt.Printf("backup written to %s\n", output)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the sqlite database with a backup snapshot",
	Long: `Copies a backup snapshot over the configured database file and
removes stale -wal/-shm sidecars. Stop the server before restoring.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return exitf(exitUsage, "--input is required")
		}
		p, err := loadProfile()
		if err != nil {
			return exitf(exitUsage, "invalid configuration: %v", err)
		}
		if p.Driver != "sqlite" {
			return exitf(exitUsage, "restore supports the sqlite driver only; use pg_restore for postgres")
		}
		src, err := os.Open(input)
		if err != nil {
			return exitf(exitUsage, "cannot read backup: %v", err)
		}
		defer src.Close()
		dst, err := os.OpenFile(p.DSN, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return exitf(exitFailure, "cannot write database file: %v", err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return exitf(exitFailure, "restore failed: %v", err)
		}
		if err := dst.Close(); err != nil {
			return exitf(exitFailure, "restore failed: %v", err)
		}
		// The snapshot carries its own state; leftover sidecars from the
		// old database must not be replayed on top of it.
		_ = os.Remove(p.DSN + "-wal")
		_ = os.Remove(p.DSN + "-shm")
		fmt.Printf("database restored from %s\n", input)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema to the configured database and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return exitf(exitUsage, "invalid configuration: %v", err)
		}
		driver, err := db.NewDBDriver(p)
		if err != nil {
			return exitf(exitFailure, "failed to create db driver: %v", err)
		}
		st := store.New(driver, p)
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return exitf(exitFailure, "migration failed: %v", err)
		}
		fmt.Println("schema is up to date")
		return nil
	},
}

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Write the OpenAPI document for the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" || output == "-" {
			fmt.Print(openAPIDocument)
			return nil
		}
		if err := os.WriteFile(output, []byte(openAPIDocument), 0o644); err != nil {
			return exitf(exitFailure, "failed to write %s: %v", output, err)
		}
		fmt.Printf("openapi document written to %s\n", output)
		return nil
	},
}

func init() {
	addClientFlags(statusCmd)
	addClientFlags(chatCmd)
	chatCmd.Flags().String("conversation", "", "continue an existing conversation by id")
	addClientFlags(commandCmd)

	hashCredentialCmd.Flags().String("verify", "", "verify the plaintext against this digest instead of hashing")
	backupCmd.Flags().String("output", "", "path of the snapshot to write")
	restoreCmd.Flags().String("input", "", "path of the snapshot to restore")
	openapiCmd.Flags().String("output", "-", `file to write, or "-" for stdout`)

	rootCmd.AddCommand(statusCmd, chatCmd, commandCmd, hashCredentialCmd,
		backupCmd, restoreCmd, migrateCmd, openapiCmd)
}
