// studypalctl inspects and repairs a studypal server's local database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/studypal/internal/config"
	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/recordsync"
	"github.com/ashureev/studypal/internal/remote"
	"github.com/ashureev/studypal/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	dbPath := config.Default().DBPath
	if v := os.Getenv("DB_PATH"); v != "" {
		dbPath = v
	}

	root := &cobra.Command{
		Use:           "studypalctl",
		Short:         "Inspect the studypal cache, outbox and pending notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", dbPath, "SQLite database path")

	root.AddCommand(newRecordCmd(&dbPath))
	root.AddCommand(newOutboxCmd(&dbPath))
	root.AddCommand(newPendingCmd(&dbPath))
	return root
}

func openStore(dbPath string) (*store.SQLiteStore, error) {
	db, err := store.NewSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return db, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRecordCmd(dbPath *string) *cobra.Command {
	rec := &cobra.Command{Use: "record", Short: "User record commands"}

	var authoritative bool
	get := &cobra.Command{
		Use:   "get <userId>",
		Short: "Print a user's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			var r *domain.UserRecord
			if authoritative {
				r, err = db.GetRecord(cmd.Context(), args[0])
			} else {
				r, err = db.GetCachedRecord(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("%w: %s", domain.ErrNoRecord, args[0])
			}
			return printJSON(cmd, r)
		},
	}
	get.Flags().BoolVar(&authoritative, "records", false, "read the record service table instead of the cache")
	rec.AddCommand(get)
	return rec
}

func newOutboxCmd(dbPath *string) *cobra.Command {
	outbox := &cobra.Command{Use: "outbox", Short: "Unconfirmed remote writes"}

	outbox.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued writes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			entries, err := db.ListOutbox(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "outbox empty")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tattempts=%d\t%s\n",
					e.UserID, e.EntryID, e.EnqueuedAt.Format(time.RFC3339), e.Attempts, e.LastError)
			}
			return nil
		},
	})

	var remoteURL, token string
	var timeout time.Duration
	replay := &cobra.Command{
		Use:   "replay --remote <url>",
		Short: "Push queued writes to the record service now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remoteURL == "" {
				return fmt.Errorf("--remote is required")
			}
			db, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			coord := recordsync.NewCoordinator(
				remote.NewClient(&http.Client{}, remoteURL, token), db, db,
				recordsync.WithTimeouts(timeout, timeout),
			)
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			res, err := coord.ReplayOutbox(ctx)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pushed=%d dropped=%d rejected=%d remaining=%d\n",
				res.Pushed, res.Dropped, res.Rejected, res.Remaining)
			return err
		},
	}
	replay.Flags().StringVar(&remoteURL, "remote", os.Getenv("STUDYPAL_REMOTE_URL"), "record service base URL")
	replay.Flags().StringVar(&token, "token", os.Getenv("STUDYPAL_REMOTE_TOKEN"), "record service bearer token")
	replay.Flags().DurationVar(&timeout, "timeout", recordsync.DefaultWriteTimeout, "per-request timeout")

	outbox.AddCommand(replay)
	return outbox
}

func newPendingCmd(dbPath *string) *cobra.Command {
	pending := &cobra.Command{Use: "pending", Short: "Pending notification ids per device session"}

	pending.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions with pending notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			owners, err := db.ListPendingOwners(cmd.Context())
			if err != nil {
				return err
			}
			if len(owners) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no pending notifications")
				return nil
			}
			for _, owner := range owners {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), owner)
			}
			return nil
		},
	})

	pending.AddCommand(&cobra.Command{
		Use:   "show <owner>",
		Short: "Show the pending ids of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ids, err := db.LoadPending(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	return pending
}
