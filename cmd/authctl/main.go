// Command authctl performs the administrative actions the HTTP API does not
// expose: applying the schema, approving and deactivating accounts, and
// listing a user's refresh tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/utils"
)

const usage = `usage: authctl [-timeout 10s] <command> [args]

commands:
  migrate               apply the embedded schema
  approve <username>    allow the user to log in
  deactivate <username> block the user and revoke all refresh tokens
  sessions <username>   list the user's refresh tokens
`

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "deadline for the whole command")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.LoadStorage()

	logger := log.New("authctl")
	logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, db, flag.Args(), logger); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		logger.Errorf("%s: %v", flag.Arg(0), err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, db *sqlx.DB, args []string, logger *log.Logger) error {
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	cmd := args[0]
	if cmd == "migrate" {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Infof("schema applied (%s)", db.DriverName())
		return nil
	}
	if len(args) != 2 {
		return errUsage
	}
	u, err := users.GetByUsername(ctx, args[1])
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("no user named %q", args[1])
	}
	if err != nil {
		return err
	}

	switch cmd {
	case "approve":
		if err := users.SetApproved(ctx, u.ID, true); err != nil {
			return err
		}
		logger.Infof("approved user %d (%s)", u.ID, u.Username)
	case "deactivate":
		n, err := users.Deactivate(ctx, u.ID)
		if err != nil {
			return err
		}
		logger.Infof("deactivated user %d (%s), revoked %d refresh tokens", u.ID, u.Username, n)
	case "sessions":
		rows, err := tokens.ListForUser(ctx, u.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTOKEN\tSTATE\tCREATED\tEXPIRES")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, utils.Fingerprint(r.Token), r.State(now),
				r.CreatedAt.Format(time.RFC3339), r.ExpiresAt.Format(time.RFC3339))
		}
		return w.Flush()
	default:
		return errUsage
	}
	return nil
}
