package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wellpass/internal"
	"github.com/DukeRupert/wellpass/internal/auth"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/storage"
)

var errNoDatabase = errors.New("STORE_PROVIDER 'memory' has no database to migrate")

// =============================================================================
// migrate
// =============================================================================

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the documents schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if a.DB == nil {
				return errNoDatabase
			}
			if err := internal.RunMigrations(cmd.Context(), a.DB); err != nil {
				return err
			}
			return printVersion(cmd, e)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer e.close()
			return printVersion(cmd, e)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if a.DB == nil {
				return errNoDatabase
			}
			if err := internal.RollbackMigration(cmd.Context(), a.DB); err != nil {
				return err
			}
			return printVersion(cmd, e)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, e *env) error {
	a, err := e.open(cmd.Context())
	if err != nil {
		return err
	}
	if a.DB == nil {
		return errNoDatabase
	}
	v, err := internal.MigrationVersion(cmd.Context(), a.DB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}

// =============================================================================
// purge
// =============================================================================

func newPurgeCmd(e *env) *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove clients past the recycle bin retention period",
		Long: `Archives and hard-deletes soft-deleted clients. By default the cutoff
is RETENTION_DAYS before now; --before overrides it with a date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			cutoff := a.Retention.Cutoff(time.Now())
			if before != "" {
				t, err := time.Parse("2006-01-02", before)
				if err != nil {
					return fmt.Errorf("--before must be YYYY-MM-DD: %w", err)
				}
				cutoff = t
			}

			n, err := a.Retention.PurgeExpired(cmd.Context(), cutoff)
			if err != nil {
				return errors.New(domain.ErrorMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d clients deleted before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "purge clients deleted before this date (YYYY-MM-DD)")
	return cmd
}

// =============================================================================
// archive
// =============================================================================

func newArchiveCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect copies of permanently removed clients",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <client-id>",
		Short: "List the archived copies of a client, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			versions, err := a.Archive.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintf(out, "no archived copies of %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, v := range versions {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", v.Key, v.Size, v.LastModified.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Print an archived copy as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			doc, err := a.Archive.Load(cmd.Context(), args[0])
			if storage.IsNotFound(err) {
				return fmt.Errorf("no archived copy at %s", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	})

	return cmd
}

// =============================================================================
// queue
// =============================================================================

func newQueueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline write queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the queued writes in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			items, err := a.Queue.Items(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTION\tCLIENT\tENQUEUED")
			for _, it := range items {
				client := it.ClientID
				if client == "" {
					client = "(new)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Action, client, it.EnqueuedAt().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Replay the queued writes against the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if !a.Monitor.Probe(cmd.Context()) {
				return errors.New("store is unreachable, nothing was replayed")
			}
			if err := a.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			res, err := a.Clients.Sync(cmd.Context())
			if err != nil {
				return errors.New(domain.ErrorMessage(err))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d, remaining %d\n", res.Applied, res.Remaining)
			if res.Stopped != nil {
				fmt.Fprintf(out, "stopped at %s (%s)\n", res.Stopped.ID, res.Stopped.Action)
			}
			return nil
		},
	})

	var confirm bool
	drop := &cobra.Command{
		Use:   "drop",
		Short: "Discard every queued write",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("dropping the queue loses unsynced writes, pass --yes to confirm")
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			n, err := a.Queue.Drop(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %d queued writes\n", n)
			return nil
		},
	}
	drop.Flags().BoolVar(&confirm, "yes", false, "confirm that queued writes should be discarded")
	cmd.AddCommand(drop)

	return cmd
}

// =============================================================================
// token
// =============================================================================

func newTokenCmd(e *env) *cobra.Command {
	var (
		role      string
		coachID   string
		coachName string
		subject   string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			sess := domain.Session{
				Role:      domain.Role(role),
				CoachID:   coachID,
				CoachName: coachName,
			}
			if !sess.Valid() {
				return fmt.Errorf("--role must be 'admin' or 'coach', and coaches need --coach-id")
			}
			if subject == "" {
				subject = coachID
			}

			tok, err := auth.NewTokens(cfg.SessionSecret, ttl).Issue(sess, subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCoach), "session role: admin or coach")
	cmd.Flags().StringVar(&coachID, "coach-id", "", "coach the session acts as")
	cmd.Flags().StringVar(&coachName, "coach-name", "", "display name of the coach")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, defaults to the coach id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to SESSION_TTL")
	return cmd
}
