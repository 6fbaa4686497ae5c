// Command karmactl runs offline karma maintenance against the feed store.
//
//	karmactl reconcile [-author id]
//	karmactl cleanup -authors a,b
//	karmactl token -sub id [-role admin] [-ttl 1h]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/auth"
	"github.com/example/feed-platform/internal/platform/logging"
	feedconfig "github.com/example/feed-platform/services/feed/internal/config"
	"github.com/example/feed-platform/services/feed/internal/idempotency"
	"github.com/example/feed-platform/services/feed/internal/karma"
	"github.com/example/feed-platform/services/feed/internal/store"
)

var errUsage = errors.New("usage: karmactl reconcile|cleanup|token [flags]")

func main() {
	_ = godotenv.Load()

	log, err := logging.New(os.Getenv("LOG_LEVEL"), zap.String("service", "karmactl"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, log); err != nil {
		log.Error("karmactl failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "reconcile":
		return reconcile(ctx, args[1:], out, log)
	case "cleanup":
		return cleanup(ctx, args[1:], out, log)
	case "token":
		return token(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func openEngine(ctx context.Context, log *zap.Logger) (*karma.Engine, func() error, error) {
	cfg, err := feedconfig.Load()
	if err != nil {
		return nil, nil, err
	}
	st, _, err := store.Open(ctx, store.OpenOptions{
		Backend:         cfg.Store,
		DatabaseURL:     cfg.DatabaseURL,
		SQLitePath:      cfg.SQLitePath,
		ExtraMigrations: []string{idempotency.PostgresMigration},
		Log:             log,
	})
	if err != nil {
		return nil, nil, err
	}
	return karma.NewEngine(st, karma.Options{Log: log.Named("karma"), MaxAttempts: cfg.ToggleMaxAttempts}), st.Close, nil
}

func reconcile(ctx context.Context, args []string, out io.Writer, log *zap.Logger) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	author := fs.String("author", "", "reconcile a single author id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	eng, closeStore, err := openEngine(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if *author != "" {
		drift, err := eng.Reconcile(ctx, *author)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"author_id": *author, "corrected": drift})
	}
	report, err := eng.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, report)
}

// cleanup removes the listed authors' content and likes, then reconciles
// everyone so totals match the surviving likes.
func cleanup(ctx context.Context, args []string, out io.Writer, log *zap.Logger) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	authors := fs.String("authors", "", "comma separated author ids to purge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := splitIDs(*authors)
	if len(ids) == 0 {
		return errors.New("cleanup: -authors is required")
	}

	eng, closeStore, err := openEngine(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	purged := make([]karma.PurgeResult, 0, len(ids))
	for _, id := range ids {
		res, err := eng.PurgeAuthor(ctx, id)
		if err != nil {
			return fmt.Errorf("purge %s: %w", id, err)
		}
		purged = append(purged, res)
	}
	report, err := eng.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"purged": purged, "reconcile": report})
}

func token(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "subject (author id)")
	role := fs.String("role", "", "optional role, e.g. admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	tok, exp, err := auth.Issuer{Secret: []byte(secret), TTL: *ttl}.Issue(*sub, *role, time.Time{})
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"token": tok, "expires_at": exp})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
