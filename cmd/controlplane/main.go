package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianmc/controlplane/internal/backups"
	"github.com/obsidianmc/controlplane/internal/config"
	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/indexers/modrinth"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/installer/fabric"
	"github.com/obsidianmc/controlplane/internal/installer/forge"
	"github.com/obsidianmc/controlplane/internal/installer/neoforge"
	"github.com/obsidianmc/controlplane/internal/installer/vanilla"
	"github.com/obsidianmc/controlplane/internal/lifecycle"
	"github.com/obsidianmc/controlplane/internal/minecraft"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/modindex"
	"github.com/obsidianmc/controlplane/internal/notify"
	"github.com/obsidianmc/controlplane/internal/scheduler"
	"github.com/obsidianmc/controlplane/internal/storage"
	"github.com/obsidianmc/controlplane/internal/upnp"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

func main() {
	var configPath = flag.String("config", "./config", "Path to configuration directory")
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	if cfg.Logging.Enabled {
		log = logger.NewWithConfig(&logger.Config{
			Enabled:    cfg.Logging.Enabled,
			FilePath:   cfg.Logging.FilePath,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		})
	}

	dirs := []string{cfg.Storage.ServersRoot, cfg.Backup.Root}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create directory %s: %v", dir, err)
		}
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	bus := events.NewBus()

	ctx := context.Background()

	var upnpMgr *upnp.Manager
	if cfg.UPnP.Enabled {
		upnpMgr, err = upnp.NewManager(ctx)
		if err != nil {
			log.Warn("upnp: gateway discovery unavailable, continuing without it: %v", err)
			bus.Publish(events.Event{Kind: events.KindUPnPUnavailable, Timestamp: time.Now(), Reason: err.Error()})
			upnpMgr = nil
		} else {
			upnpMgr.OnUnavailable(func(serverID string, err error) {
				bus.Publish(events.Event{Kind: events.KindUPnPUnavailable, ServerID: serverID, Timestamp: time.Now(), Reason: err.Error()})
			})
			upnpMgr.StartRenewal(ctx)
			defer upnpMgr.Stop()
		}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	manifestClient := minecraft.NewManifestClient(httpClient)
	transport := installer.NewSharedTransport(cfg.Minecraft.DownloadConcurrency)

	javaVersions := minecraft.NewJavaVersionMap()
	if err := javaVersions.RefreshAll(ctx, manifestClient); err != nil {
		log.Warn("minecraft: initial java-version map refresh failed, will retry on schedule: %v", err)
	}

	installers := map[models.ModLoader]installer.Client{
		models.ModLoaderVanilla:  vanilla.New(manifestClient, transport),
		models.ModLoaderFabric:   fabric.New(transport),
		models.ModLoaderForge:    forge.New(transport, cfg.Minecraft.DefaultJavaExecutable),
		models.ModLoaderNeoForge: neoforge.New(transport, cfg.Minecraft.DefaultJavaExecutable),
	}

	notifier := notify.NewPublisher(store, bus)

	lifecycleMgr := lifecycle.NewManager(lifecycle.Config{
		Store:        store,
		Bus:          bus,
		UPnPManager:  upnpMgr,
		Installers:   installers,
		JavaVersions: javaVersions,
		Notifier:     notifier,
		ServersRoot:  cfg.Storage.ServersRoot,
		Log:          log,
	})

	modrinthClient := modrinth.NewClient(cfg.Minecraft.UserAgent)
	modIndex := modindex.New(modindex.Config{
		Store:    store,
		Bus:      bus,
		Modrinth: modrinthClient,
		Log:      log,
	})

	servers, err := store.ListServers(ctx)
	if err != nil {
		log.Error("Failed to list servers for startup reconciliation: %v", err)
	}
	for _, server := range servers {
		dir := cfg.Storage.ServersRoot + string(os.PathSeparator) + server.Directory
		if err := modIndex.Watch(ctx, server.ID, dir); err != nil {
			log.Warn("modindex: could not watch server %s: %v", server.ID, err)
		}

		// No supervisor can have survived this process's own restart, so any
		// server still marked Running/Starting/Hanging from before is a
		// crash, not a live process.
		switch server.Status {
		case models.StatusRunning, models.StatusStarting, models.StatusHanging:
			server.Status = models.StatusCrashed
			if err := store.UpdateServer(ctx, server); err != nil {
				log.Error("Failed to mark orphaned server %s crashed: %v", server.ID, err)
			}
		}

		if server.AutoStartOnBoot {
			if err := lifecycleMgr.Start(ctx, server.ID); err != nil {
				log.Error("Failed to auto-start server %s: %v", server.ID, err)
			}
		}
	}

	backupMgr := backups.NewManager(backups.Config{
		Root:                 cfg.Backup.Root,
		DefaultRetentionDays: cfg.Backup.DefaultRetentionDays,
		ExportFormat:         cfg.Backup.ExportFormat,
	}, cfg.Storage.ServersRoot, store, bus, log)

	sched := scheduler.New(log,
		time.Duration(cfg.Scheduler.TickInterval)*time.Second,
		time.Duration(cfg.Scheduler.StopTimeout)*time.Second)

	javaTask, err := scheduler.NewJavaVersionRefreshTask(javaVersions, manifestClient)
	if err != nil {
		log.Fatal("Failed to build java-version refresh task: %v", err)
	}
	sched.AddTask(javaTask)

	backupTask, err := scheduler.NewBackupCheckTask(store, backupMgr, bus)
	if err != nil {
		log.Fatal("Failed to build backup check task: %v", err)
	}
	sched.AddTask(backupTask)

	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler: %v", err)
	}

	log.Info("Control plane ready: %d server(s) tracked, %d installer loader(s) registered", len(servers), len(installers))

	watchSupportBundleSignal(log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down control plane...")

	if err := sched.Stop(); err != nil {
		log.Error("Scheduler shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	running, err := store.ListServers(shutdownCtx)
	if err != nil {
		log.Error("Failed to list servers for shutdown: %v", err)
	}
	for _, server := range running {
		if server.Status != models.StatusRunning && server.Status != models.StatusHanging {
			continue
		}
		log.Info("Stopping server %s before exit", server.ID)
		if err := lifecycleMgr.Stop(shutdownCtx, server.ID); err != nil {
			log.Error("Failed to stop server %s: %v", server.ID, err)
		}
	}

	log.Info("Control plane stopped")
}
