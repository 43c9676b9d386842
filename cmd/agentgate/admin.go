package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/agentgate/internal/adapter/postgres"
	"github.com/Strob0t/agentgate/internal/config"
	"github.com/Strob0t/agentgate/internal/domain/decision"
)

// runAdmin dispatches admin subcommands (migrate, rollback, version, decisions).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "decisions":
		return runAdminDecisions(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: agentgate admin <command> [options]

Commands:
  migrate      Apply pending audit log migrations
  rollback     Roll back the most recent migrations
  version      Print the current migration version
  decisions    List recorded decisions
  help         Show this help message

Examples:
  agentgate admin migrate
  agentgate admin rollback --steps 2
  agentgate admin decisions --action forward --since 1h --limit 20
`)
}

// adminDSN loads the configuration and returns the PostgreSQL DSN.
func adminDSN() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is not configured (DATABASE_URL)")
	}
	return cfg, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := adminDSN()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Migrated to version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be >= 1")
	}
	cfg, err := adminDSN()
	if err != nil {
		return err
	}

	if !*yes && term.IsTerminal(int(os.Stdin.Fd())) {
		ok, err := confirm(fmt.Sprintf("Roll back %d migration(s)? Audit data in dropped tables is lost. [y/N] ", *steps))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back to version %d\n", v)
	return nil
}

func runAdminVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := adminDSN()
	if err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func runAdminDecisions(args []string) error {
	fs := flag.NewFlagSet("decisions", flag.ContinueOnError)
	action := fs.String("action", "", "filter by action (process, forward, reject)")
	reason := fs.String("reason", "", "filter by reason")
	since := fs.Duration("since", 0, "only decisions newer than this age, e.g. 1h")
	limit := fs.Int("limit", 50, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := adminDSN()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	f := decision.Filter{
		Action: decision.Action(*action),
		Reason: decision.Reason(*reason),
		Limit:  *limit,
	}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	items, err := postgres.NewStore(pool).ListDecisions(ctx, f)
	if err != nil {
		return fmt.Errorf("list decisions: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("No decisions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tEVENT\tTYPE\tPRIORITY\tACTION\tREASON\tCONFIDENCE\tTARGET")
	for i := range items {
		d := &items[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			d.CreatedAt.Format(time.RFC3339), d.EventID, d.EventType, d.Priority,
			d.Action, d.Reason, d.Confidence, d.ForwardTarget)
	}
	return w.Flush()
}

func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
