package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"robolearn/internal/adapters/storage"
	"robolearn/internal/app"
	"robolearn/internal/application/projections"
	"robolearn/internal/config"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/identity"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	cfg config.Config
	out io.Writer
	ov  app.Overrides
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                  - run a goose command (up, down, status, version, ...)")
	fmt.Fprintln(cli.out, "  create-parent -email EMAIL -name NAME   - create a confirmed parent account; password is prompted")
	fmt.Fprintln(cli.out, "  approvals -parent-email EMAIL           - list a parent's student approval requests")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL              - set a user's password; password is prompted")
	fmt.Fprintln(cli.out, "  outbox [-all] [-retry ID] [-abandon ID] [-purge-days N] - inspect and manage queued emails")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	createParentCmd := flag.NewFlagSet("create-parent", flag.ContinueOnError)
	createParentEmail := createParentCmd.String("email", "", "The parent's email address. The password will be prompted next.")
	createParentName := createParentCmd.String("name", "", "The parent's full name.")

	approvalsCmd := flag.NewFlagSet("approvals", flag.ContinueOnError)
	approvalsEmail := approvalsCmd.String("parent-email", "", "The parent's email address.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	outboxCmd := flag.NewFlagSet("outbox", flag.ContinueOnError)
	outboxAll := outboxCmd.Bool("all", false, "List entries still awaiting delivery instead of failed ones.")
	outboxLimit := outboxCmd.Int("limit", 50, "Maximum entries to list (1-100).")
	outboxRetry := outboxCmd.String("retry", "", "Retry one entry now, ignoring backoff.")
	outboxAbandon := outboxCmd.String("abandon", "", "Stop retrying one entry.")
	outboxPurge := outboxCmd.Int("purge-days", 0, "Delete delivered entries older than this many days.")

	for _, fs := range []*flag.FlagSet{createParentCmd, approvalsCmd, resetPasswordCmd, outboxCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2], args[3:]...)

	case "create-parent":
		if err := createParentCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *createParentEmail == "" || strings.TrimSpace(*createParentName) == "" {
			createParentCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			createParentCmd.Usage()
			return errHelp
		}
		return cli.createParent(ctx, *createParentEmail, *createParentName, pwd)

	case "approvals":
		if err := approvalsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *approvalsEmail == "" {
			approvalsCmd.Usage()
			return errHelp
		}
		return cli.listApprovals(ctx, *approvalsEmail)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordEmail, pwd)

	case "outbox":
		if err := outboxCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *outboxLimit < 1 || *outboxLimit > 100 || *outboxPurge < 0 {
			outboxCmd.Usage()
			return errHelp
		}
		switch {
		case *outboxRetry != "":
			return cli.outboxRetry(ctx, *outboxRetry)
		case *outboxAbandon != "":
			return cli.outboxAbandon(ctx, *outboxAbandon)
		case *outboxPurge > 0:
			return cli.outboxPurge(ctx, time.Duration(*outboxPurge)*24*time.Hour)
		}
		return cli.outboxList(ctx, *outboxAll, *outboxLimit)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// migrate opens the database without the automatic upgrade so down and status see the real state.
func (cli *commandLine) migrate(ctx context.Context, command string, args ...string) error {
	db, err := storage.Open(cli.cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return storage.RunMigrations(ctx, db, command, args...)
}

func (cli *commandLine) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cli.cfg, cli.ov)
}

func (cli *commandLine) createParent(ctx context.Context, email, name, password string) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	meta := account.EncodeMetadata(account.ParentMetadata{FullName: strings.TrimSpace(name)})
	u, err := a.Identity.CreateConfirmedUser(ctx, email, password, meta)
	if err != nil {
		return err
	}
	acc, err := a.Accounts.GetByUserID(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("parent profile for %s: %w", u.Email, err)
	}
	fmt.Fprintf(cli.out, "created parent %s (user %s, profile %s)\n", u.Email, u.ID, acc.ID)
	return nil
}

func (cli *commandLine) listApprovals(ctx context.Context, parentEmail string) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	parent, err := a.Accounts.GetParentByEmail(ctx, identity.NormalizeEmail(parentEmail))
	if err != nil {
		return fmt.Errorf("parent %s: %w", parentEmail, err)
	}
	result, err := projections.QueryGetParentApprovals(ctx,
		projections.GetParentApprovalsQuery{ParentProfileID: parent.ID},
		projections.GetParentApprovalsDeps{Approvals: a.Approvals, Accounts: a.Accounts, Users: a.Users},
	)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTUDENT\tEMAIL\tSTATUS\tREQUESTED")
	for _, row := range result.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.ID, row.StudentName, row.StudentEmail, row.Status,
			row.RequestedAt.Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d pending of %d\n", result.PendingCount, len(result.Rows))
	return nil
}

func (cli *commandLine) resetPassword(ctx context.Context, email, password string) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Identity.SetPasswordByEmail(ctx, email, password); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password updated for %s\n", identity.NormalizeEmail(email))
	return nil
}

func (cli *commandLine) outboxList(ctx context.Context, all bool, limit int) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.Outbox.ListFailed
	if all {
		list = a.Outbox.ListPending
	}
	entries, err := list(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tSTATUS\tATTEMPTS\tCREATED\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n", e.ID, e.ActionType, e.Status, e.Attempts, e.MaxAttempts,
			e.CreatedAt.Format("2006-01-02 15:04"), e.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d entries\n", len(entries))
	return nil
}

func (cli *commandLine) outboxRetry(ctx context.Context, id string) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.OutboxProcessor().ProcessSingle(ctx, id); err != nil {
		return err
	}
	entry, err := a.Outbox.GetByID(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "entry %s is now %s\n", id, entry.Status)
	return nil
}

func (cli *commandLine) outboxAbandon(ctx context.Context, id string) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.OutboxProcessor().AbandonEntry(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "entry %s abandoned\n", id)
	return nil
}

func (cli *commandLine) outboxPurge(ctx context.Context, age time.Duration) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Outbox.DeleteDone(ctx, storage.FormatTime(time.Now().Add(-age)))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted %d delivered entries\n", n)
	return nil
}
