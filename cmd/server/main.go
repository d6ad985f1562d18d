package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nova-gt/novaserver/pkg/account"
	"github.com/nova-gt/novaserver/pkg/admin"
	"github.com/nova-gt/novaserver/pkg/archive"
	"github.com/nova-gt/novaserver/pkg/boltstore"
	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/items"
	"github.com/nova-gt/novaserver/pkg/server"
	"github.com/nova-gt/novaserver/pkg/transport"
	"github.com/nova-gt/novaserver/pkg/world"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("NOVA_CONF", ""), "Path to YAML config file (env: NOVA_CONF)")
	port := flag.Int("port", 0, "ENet UDP port, overrides config (env: NOVA_ENET_PORT)")
	boltPath := flag.String("bolt", "", "Path to bbolt database, overrides config (env: NOVA_STORAGE_BOLT_PATH)")
	restore := flag.String("restore", envDefault("NOVA_RESTORE", ""), "Restore from archive before boot (env: NOVA_RESTORE)")
	backup := flag.Bool("backup", false, "Write an archive snapshot and exit")
	ban := flag.String("ban", "", "Ban the named GrowID and exit")
	unban := flag.String("unban", "", "Lift a ban on the named GrowID and exit")
	flag.Parse()

	cfg, err := server.LoadConfig(*confFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "novaserver: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.ENet.Port = uint16(*port)
	}
	if *boltPath != "" {
		cfg.Storage.BoltPath = *boltPath
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "novaserver: logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("starting novaserver", zap.String("version", server.Version))

	if err := run(cfg, *confFile, *restore, *backup, *ban, *unban, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func newLogger(lc server.LogConf) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func run(cfg *server.Config, confPath, restorePath string, backupOnly bool, ban, unban string, log *zap.Logger) error {
	if restorePath != "" {
		log.Info("restoring from archive", zap.String("path", restorePath))
		res, err := archive.Restore(archive.RestoreParams{
			ArchivePath: restorePath,
			BoltDest:    cfg.Storage.BoltPath,
			AuditDest:   cfg.Storage.AuditPath,
			ItemsDest:   cfg.Storage.ItemsPath,
			ConfDest:    confPath,
		})
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		log.Info("restore complete", zap.Int("files", res.FilesRestored), zap.Strings("kept", res.Skipped))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BoltPath), 0o755); err != nil {
		return err
	}
	store, err := boltstore.Open(cfg.Storage.BoltPath)
	if err != nil {
		return err
	}
	defer store.Close()
	nAccounts, nWorlds := store.Counts()
	log.Info("database opened", zap.String("path", store.Path()), zap.Int("accounts", nAccounts), zap.Int("worlds", nWorlds))

	accounts := account.NewStore(store, account.Options{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenExpiry:   cfg.Auth.TokenExpiry,
		GuestsEnabled: cfg.Auth.GuestsEnabled,
		MaxGuests:     cfg.Auth.MaxGuests,
	}, log)

	switch {
	case ban != "":
		if err := accounts.SetBanned(ban, true); err != nil {
			return err
		}
		log.Info("account banned", zap.String("name", ban))
		return nil
	case unban != "":
		if err := accounts.SetBanned(unban, false); err != nil {
			return err
		}
		log.Info("account unbanned", zap.String("name", unban))
		return nil
	}

	catalog := items.NewCatalog(cfg.Storage.ItemsPath, log)

	var audit *server.AuditLog
	if cfg.Storage.AuditPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.AuditPath), 0o755); err != nil {
			return err
		}
		audit, err = server.OpenAuditLog(cfg.Storage.AuditPath, log)
		if err != nil {
			return err
		}
		defer audit.Close()
	}

	snap := snapshotter{cfg: cfg, confPath: confPath, store: store, audit: audit, items: catalog, log: log}
	if backupOnly {
		_, err := snap.run()
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The admin API can end the run as well.
	ctx, cancelRun := context.WithCancel(sigCtx)
	defer cancelRun()

	if err := catalog.Watch(ctx); err != nil {
		log.Warn("item database hot reload disabled", zap.Error(err))
	}

	bus := events.NewBus()
	if audit != nil {
		bus.SubscribeGlobal(audit)
		audit.StartRetention(ctx, cfg.Storage.AuditRetention)
	}
	loader := world.NewStoreLoader(store, cfg.Game.WorldWidth, cfg.Game.WorldHeight, log)
	worlds := world.NewRegistry(loader, loader, bus, log)
	metrics := server.NewMetrics()

	srv := server.NewServer(server.Options{
		Game:     cfg.Game,
		Accounts: accounts,
		Items:    catalog,
		Worlds:   worlds,
		Bus:      bus,
		Metrics:  metrics,
		Logger:   log,
	})

	// Both transports draw handles from one sequence.
	ids := &transport.IDs{}
	netCtx, stopNet := context.WithCancel(context.Background())
	defer stopNet()

	enetHost := transport.NewENet(transport.ENetConfig{
		Port:        cfg.ENet.Port,
		MaxPeers:    cfg.ENet.MaxPeers,
		Channels:    cfg.ENet.Channels,
		ServiceWait: 10,
	}, ids, log)
	enetDone := make(chan error, 1)
	go func() { enetDone <- enetHost.Run(netCtx, srv) }()

	var web *server.WebServer
	if cfg.Web.Enabled {
		ws := transport.NewWebSocket(netCtx, srv, ids, cfg.Web.CORSOrigins, log)
		web = server.NewWebServer(cfg.Web, cfg.ENet, srv, accounts, ws, metrics, log)
		if cfg.Web.Admin {
			ctrl := server.NewAdminAdapter(srv, server.AdminOptions{
				Accounts:    accounts,
				Audit:       audit,
				Snapshot:    snap.run,
				ArchiveDir:  cfg.Storage.ArchiveDir,
				ReloadItems: catalog.Reload,
				Stop:        cancelRun,
			})
			adm := admin.New(ctrl, admin.Options{
				DataDir:  filepath.Dir(cfg.Storage.BoltPath),
				Password: cfg.Web.AdminPassword,
				Logger:   log,
			})
			web.Mount("/admin/", adm.Handler("/admin"))
		}
		go func() {
			if err := web.Start(ctx); err != nil {
				log.Error("web server", zap.Error(err))
			}
		}()
	}

	if cfg.Storage.ArchiveDir != "" && cfg.Storage.ArchiveEvery > 0 {
		go snap.schedule(ctx, cfg.Storage.ArchiveEvery)
		log.Info("auto-archive enabled",
			zap.Duration("every", cfg.Storage.ArchiveEvery),
			zap.Int("retain", cfg.Storage.ArchiveRetain),
			zap.String("dir", cfg.Storage.ArchiveDir))
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down", zap.Int("sessions", srv.Sessions().Count()))
	case err := <-enetDone:
		if err != nil {
			return err
		}
		return errors.New("enet host stopped")
	}

	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if web != nil {
		if err := web.Stop(shutdownCtx); err != nil {
			log.Warn("web shutdown", zap.Error(err))
		}
	}
	// Give the ENet loop a moment to flush the disconnects.
	time.Sleep(250 * time.Millisecond)
	stopNet()
	if err := <-enetDone; err != nil {
		log.Warn("enet shutdown", zap.Error(err))
	}
	if cfg.Storage.ArchiveDir != "" {
		if _, err := snap.run(); err != nil {
			log.Warn("final archive", zap.Error(err))
		}
	}
	return nil
}

// snapshotter writes archives of the live state.
type snapshotter struct {
	cfg      *server.Config
	confPath string
	store    *boltstore.Store
	audit    *server.AuditLog
	items    *items.Catalog
	log      *zap.Logger
}

func (s snapshotter) run() (string, error) {
	dir := s.cfg.Storage.ArchiveDir
	if dir == "" {
		return "", errors.New("storage.archive_dir is not set")
	}
	accounts, worlds := s.store.Counts()
	p := archive.Params{
		BoltSnapshot: s.store.Backup,
		ItemsPath:    s.cfg.Storage.ItemsPath,
		ConfPath:     s.confPath,
		Dir:          dir,
		Accounts:     accounts,
		Worlds:       worlds,
		ItemsHash:    s.items.Info().Hash,
	}
	if s.audit != nil {
		p.AuditPath = s.audit.Path()
		p.AuditCheckpoint = s.audit.Checkpoint
	}
	path, err := archive.Create(p)
	if err != nil {
		return "", err
	}
	s.log.Info("archive written", zap.String("path", path))

	removed, err := archive.Prune(dir, s.cfg.Storage.ArchiveRetain)
	if err != nil {
		s.log.Warn("archive prune", zap.Error(err))
	}
	if len(removed) > 0 {
		s.log.Info("pruned archives", zap.Int("count", len(removed)))
	}
	return path, nil
}

func (s snapshotter) schedule(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.run(); err != nil {
				s.log.Error("auto-archive", zap.Error(err))
			}
		}
	}
}
