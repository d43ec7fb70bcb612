package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/audit"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gallery.FromConfig(cfg)
		if err != nil {
			return err
		}
		return runList(cmd.Context(), store)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Remove an identity's enrollment and attempt log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := gallery.FromConfig(cfg)
		if err != nil {
			return err
		}
		var attempts attemptLog
		if cfg.Audit.Enabled {
			client := audit.NewRedisClient(cfg.Redis)
			defer client.Close()
			attempts = audit.NewRedisRecorder(client, cfg.Audit)
		}
		return runRemove(cmd.Context(), store, attempts, args[0])
	},
}

var attemptsLimit int

var attemptsCmd = &cobra.Command{
	Use:   "attempts <identity>",
	Short: "Show recent verification attempts for an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Audit.Enabled {
			return errors.New("attempt log is disabled (set audit.enabled)")
		}
		client := audit.NewRedisClient(cfg.Redis)
		defer client.Close()
		return runAttempts(cmd.Context(), audit.NewRedisRecorder(client, cfg.Audit), args[0], attemptsLimit)
	},
}

func init() {
	attemptsCmd.Flags().IntVarP(&attemptsLimit, "limit", "n", 20, "number of attempts to show")
}

// attemptLog is the part of audit.RedisRecorder used by the CLI.
type attemptLog interface {
	List(ctx context.Context, identity string, limit int) ([]audit.Attempt, error)
	Clear(ctx context.Context, identity string) error
}

func runList(ctx context.Context, store gallery.Store) error {
	logging.Debug("Listing enrolled identities")

	ids, err := store.Identities(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tIMAGES\tCONTACT\tENROLLED")
	for _, id := range ids {
		p, err := store.LoadProfile(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t-\t-\n", id)
			continue
		}
		contact := p.Contact
		if contact == "" {
			contact = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", id, p.Images, contact, p.EnrolledAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Printf("\nTotal: %d identity(ies)\n", len(ids))
	return nil
}

func runRemove(ctx context.Context, store gallery.Store, attempts attemptLog, identity string) error {
	if err := gallery.ValidateIdentity(identity); err != nil {
		return err
	}

	logging.Infof("Removing enrollment for: %s", identity)
	if err := store.Remove(ctx, identity); err != nil {
		if errors.Is(err, gallery.ErrIdentityNotFound) {
			return fmt.Errorf("identity '%s' is not enrolled", identity)
		}
		return err
	}

	if attempts != nil {
		if err := attempts.Clear(ctx, identity); err != nil {
			logging.WithError(err).Warn("Failed to clear attempt log")
		}
	}

	fmt.Printf("Enrollment for '%s' has been removed.\n", identity)
	return nil
}

func runAttempts(ctx context.Context, log attemptLog, identity string, limit int) error {
	list, err := log.List(ctx, identity, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No attempts recorded for '%s'.\n", identity)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tREASON\tDISTANCE\tEVIDENCE\tSESSION")
	for _, a := range list {
		dist := "-"
		if a.Distance > 0 {
			dist = fmt.Sprintf("%.4f", a.Distance)
		}
		evidence := "-"
		if len(a.Evidence) > 0 {
			evidence = fmt.Sprintf("%d B", len(a.Evidence))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.At.Local().Format("2006-01-02 15:04:05"), a.Outcome, a.Reason, dist, evidence, a.SessionID)
	}
	return w.Flush()
}
