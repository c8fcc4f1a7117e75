// Command migrate manages the database schema and application users.
//
// Usage:
//
//	migrate up
//	migrate down [n]
//	migrate version
//	migrate add-user <id> <token> [--premium]
//	migrate delete-phone <phone>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/memesite/internal/config"
	"github.com/blockedby/memesite/internal/database"
	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/migrator"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/nats"
	"github.com/blockedby/memesite/internal/repository"
	"github.com/blockedby/memesite/migrations"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate up | down [n] | version | add-user <id> <token> [--premium] | delete-phone <phone>")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if args[0] == "delete-phone" {
		if len(args) != 2 {
			return errors.New("delete-phone needs <phone>")
		}
		return runDeletePhone(ctx, cfg, args[1])
	}
	if database.IsSQLite(cfg.DatabaseURL) {
		return fmt.Errorf("%s targets postgres; sqlite databases are migrated by the server on start", args[0])
	}

	m, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		return err
	}
	log := logger.Get()

	switch args[0] {
	case "up":
		if err := m.Up(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		if err := m.Down(ctx, cfg.DatabaseURL, steps); err != nil {
			return err
		}
		log.Info().Int("steps", steps).Msg("migrations rolled back")

	case "version":
		v, dirty, err := m.Version(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)

	case "add-user":
		fs := flag.NewFlagSet("add-user", flag.ContinueOnError)
		premium := fs.Bool("premium", false, "grant the premium plan")
		// flags may follow the positional arguments
		var pos []string
		for rest := args[1:]; len(rest) > 0; {
			if err := fs.Parse(rest); err != nil {
				return err
			}
			rest = fs.Args()
			if len(rest) > 0 {
				pos, rest = append(pos, rest[0]), rest[1:]
			}
		}
		if len(pos) != 2 {
			return fmt.Errorf("add-user needs <id> <token>")
		}

		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		users := repository.NewUsersRepository(db.Pool, log)
		if err := users.Upsert(ctx, pos[0], pos[1], *premium); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

// phoneRemover deletes every session bound to a phone.
type phoneRemover interface {
	DeleteAllForPhone(ctx context.Context, phone string) (int64, error)
}

func runDeletePhone(ctx context.Context, cfg *config.Config, phone string) error {
	log := logger.Get()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions := repository.NewSessionStore(db.GORM, log)
	if database.IsSQLite(cfg.DatabaseURL) {
		if err := sessions.AutoMigrate(); err != nil {
			return err
		}
	}

	var pub events.Publisher = events.Nop{}
	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, deletion will not be published")
	} else {
		defer nc.Close()
		pub = events.NewNATSPublisher(nc)
	}

	n, err := deletePhone(ctx, sessions, pub, phone)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d session(s) for %s\n", n, logger.MaskPhone(models.NormalizePhone(phone)))
	return nil
}

// deletePhone removes a phone's sessions for every user and announces the
// removal. A failed publish is logged; the rows are already gone.
func deletePhone(ctx context.Context, sessions phoneRemover, pub events.Publisher, phone string) (int64, error) {
	phone = models.NormalizePhone(phone)
	if strings.TrimPrefix(phone, "+") == "" {
		return 0, errors.New("phone has no digits")
	}
	n, err := sessions.DeleteAllForPhone(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	if err := pub.SessionDeleted(ctx, events.SessionDeletedEvent{
		Phone:     logger.MaskPhone(phone),
		Count:     n,
		DeletedAt: time.Now().UTC(),
	}); err != nil {
		logger.Get().Warn().Err(err).Msg("failed to publish session deletion")
	}
	return n, nil
}
