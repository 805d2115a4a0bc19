package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bedrocktools/bedrock-sync/internal/config"
	"github.com/bedrocktools/bedrock-sync/internal/drive"
	apperrors "github.com/bedrocktools/bedrock-sync/internal/errors"
	"github.com/bedrocktools/bedrock-sync/internal/logging"
	"github.com/bedrocktools/bedrock-sync/internal/state"
	"github.com/bedrocktools/bedrock-sync/internal/worlds"
)

var Version = "dev"

const usage = `usage: bedrock-sync <command> [arguments]

commands:
  list                      print the world catalog
  upload <id> | --all       upload world archives to the remote store
  download <id> | --all     download world archives from the remote store
  delete-local <id> | --all remove local world folders
  delete-remote <id> | --all remove remote world archives
  watch                     watch the worlds folder and re-print the catalog
  login                     authorize access to the remote store
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	logger  *slog.Logger
	store   *worlds.Store
	remote  *drive.Client
	state   *state.State
	catalog *worlds.Reconciler
	syncer  *worlds.Syncer
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "login" {
		return login(ctx, cfg)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("bedrock-sync starting",
		slog.String("version", Version),
		slog.String("command", command),
		slog.String("worlds_dir", cfg.WorldsDir),
		slog.Bool("authenticated", a.remote.IsAuthenticated()),
	)

	switch command {
	case "list":
		return a.list(ctx)
	case "upload":
		return a.each(ctx, args, a.syncer.UploadWorld, a.syncer.UploadAll)
	case "download":
		return a.each(ctx, args, a.syncer.DownloadWorld, a.syncer.DownloadAll)
	case "delete-local":
		return a.each(ctx, args, func(_ context.Context, id string) error {
			return a.syncer.DeleteWorldLocal(id)
		}, a.syncer.DeleteAllLocal)
	case "delete-remote":
		return a.each(ctx, args, a.syncer.DeleteWorldRemote, a.syncer.DeleteAllRemote)
	case "watch":
		return a.watch(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := worlds.NewStore(cfg.WorldsDir)
	if err != nil {
		return nil, err
	}

	if cfg.StrictWorldsDir {
		if err := store.CheckWorldsRoot(); err != nil {
			return nil, fmt.Errorf("worlds dir must be the %q folder (set BEDROCK_STRICT_WORLDS_DIR=false to override): %w",
				worlds.WorldsFolderName, err)
		}
	}

	appState, err := state.Load(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	// A missing token still gets a working app: the client reports
	// NotAuthenticated on use and the catalog degrades to local-only.
	httpClient, err := drive.NewHTTPClient(ctx, cfg.CredentialsFile, cfg.TokenFile)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotAuthenticated) {
			appState.Close()
			return nil, err
		}

		logger.Warn("not authenticated, run 'bedrock-sync login' to enable remote operations")

		httpClient = nil
	}

	remote := drive.NewClient(httpClient)

	return &app{
		logger:  logger,
		store:   store,
		remote:  remote,
		state:   appState,
		catalog: worlds.NewReconciler(store, remote, logger),
		syncer:  worlds.NewSyncer(store, remote, appState, logger),
	}, nil
}

func (a *app) close() {
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state db", slog.String("error", err.Error()))
	}
}

// refresh rebuilds the catalog and persists the snapshot so bulk
// operations in later runs see the worlds observed now. Sync records of
// worlds that left the catalog are pruned along the way.
func (a *app) refresh(ctx context.Context) ([]worlds.WorldEntry, error) {
	entries, err := a.catalog.Build(ctx)
	if err != nil {
		return nil, err
	}

	previous, err := a.state.Catalog()
	if err != nil {
		a.logger.Warn("reading previous catalog snapshot", slog.String("error", err.Error()))
	}

	snapshot := make([]state.World, 0, len(entries))
	current := make(map[string]bool, len(entries))

	for _, e := range entries {
		current[e.ID] = true

		snapshot = append(snapshot, state.World{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Status:      e.Status.String(),
		})
	}

	if err := a.state.SaveCatalog(snapshot); err != nil {
		a.logger.Warn("saving catalog snapshot", slog.String("error", err.Error()))
	}

	for _, w := range previous {
		if current[w.ID] {
			continue
		}

		if err := a.state.DeleteSyncRecord(w.ID); err != nil {
			a.logger.Warn("pruning sync record",
				slog.String("id", w.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return entries, nil
}

func (a *app) list(ctx context.Context) error {
	entries, err := a.refresh(ctx)
	if err != nil {
		return err
	}

	printCatalog(entries)

	return nil
}

// each runs a sync operation for one id or, with --all, over the whole
// catalog, then refreshes the persisted snapshot. The refresh happens
// even when the operation partly failed, so the snapshot reflects what
// actually happened.
func (a *app) each(ctx context.Context, args []string, one func(context.Context, string) error, all func(context.Context) error) error {
	if len(args) != 1 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("expected a world id or --all")
	}

	var opErr error
	if args[0] == "--all" {
		// Bulk forms act on the last-known snapshot; make sure one exists.
		if _, err := a.refresh(ctx); err != nil {
			return err
		}

		opErr = all(ctx)
	} else {
		opErr = one(ctx, args[0])
	}

	if _, err := a.refresh(ctx); err != nil {
		a.logger.Warn("refreshing catalog", slog.String("error", err.Error()))
	}

	return opErr
}

func (a *app) watch(ctx context.Context) error {
	if err := a.list(ctx); err != nil {
		return err
	}

	watcher := worlds.NewWatcher(a.store, a.logger, func(ids []string) {
		a.logger.Info("worlds changed", slog.Int("count", len(ids)))

		entries, err := a.refresh(ctx)
		if err != nil {
			a.logger.Warn("rebuilding catalog", slog.String("error", err.Error()))
			return
		}

		printCatalog(entries)
	})

	err := watcher.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func printCatalog(entries []worlds.WorldEntry) {
	if len(entries) == 0 {
		fmt.Println("no worlds found")
		return
	}

	for _, e := range entries {
		fmt.Printf("%-36s  %-12s  %s\n", e.ID, e.Status, e.DisplayName)
	}
}

// login walks through the OAuth authorization code flow on the
// terminal and caches the granted token.
func login(ctx context.Context, cfg *config.Config) error {
	url, err := drive.AuthURL(cfg.CredentialsFile)
	if err != nil {
		return err
	}

	fmt.Printf("Open this URL in a browser and authorize access:\n\n  %s\n\n", url)
	fmt.Fprint(os.Stderr, "Enter authorization code: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no authorization code entered")
	}

	if err := drive.Exchange(ctx, cfg.CredentialsFile, cfg.TokenFile, scanner.Text()); err != nil {
		return err
	}

	fmt.Println("Authorized. Token saved to", cfg.TokenFile)

	return nil
}
