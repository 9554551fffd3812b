package modindex

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/indexers/modrinth"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/storage"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

// modrinthLookupTimeout bounds the enrichment call so a slow or unreachable
// Modrinth API never stalls the watcher's event loop.
const modrinthLookupTimeout = 5 * time.Second

// Index keeps storage.Store's mod table in sync with one or more servers'
// mods directories, via an fsnotify watch per server plus an on-demand
// RefreshAll reconciliation.
type Index struct {
	store    storage.Store
	bus      *events.Bus
	modrinth *modrinth.Client
	log      *logger.Logger

	mu       sync.Mutex
	watchers map[string]*serverWatch // serverID -> watch
}

type serverWatch struct {
	dir     string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Config wires Index's collaborators. Modrinth is optional; a nil client
// disables SHA1 enrichment entirely.
type Config struct {
	Store    storage.Store
	Bus      *events.Bus
	Modrinth *modrinth.Client
	Log      *logger.Logger
}

// New builds an Index. Watchers are started per-server via Watch.
func New(cfg Config) *Index {
	return &Index{
		store:    cfg.Store,
		bus:      cfg.Bus,
		modrinth: cfg.Modrinth,
		log:      cfg.Log,
		watchers: make(map[string]*serverWatch),
	}
}

// modsSubdir is the directory name, relative to a server's own directory,
// this index watches and reconciles.
const modsSubdir = "mods"

// Watch starts (or restarts) watching serverID's mods directory, rooted at
// serverDir. It performs an initial RefreshAll before returning so the index
// reflects the directory's current contents even if no events fire.
func (idx *Index) Watch(ctx context.Context, serverID, serverDir string) error {
	modsDir := filepath.Join(serverDir, modsSubdir)
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		return err
	}

	if err := idx.RefreshAll(ctx, serverID, serverDir); err != nil {
		idx.log.Warn("modindex: initial refresh for %s failed: %v", serverID, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(modsDir); err != nil {
		watcher.Close()
		return err
	}

	sw := &serverWatch{dir: serverDir, watcher: watcher, stopCh: make(chan struct{})}

	idx.mu.Lock()
	if old, ok := idx.watchers[serverID]; ok {
		close(old.stopCh)
		old.watcher.Close()
	}
	idx.watchers[serverID] = sw
	idx.mu.Unlock()

	go idx.processEvents(serverID, sw)
	return nil
}

// Unwatch stops watching serverID's mods directory; a no-op if not watched.
func (idx *Index) Unwatch(serverID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	sw, ok := idx.watchers[serverID]
	if !ok {
		return
	}
	delete(idx.watchers, serverID)
	close(sw.stopCh)
	sw.watcher.Close()
}

func (idx *Index) processEvents(serverID string, sw *serverWatch) {
	for {
		select {
		case <-sw.stopCh:
			return
		case evt, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			idx.handleEvent(serverID, sw.dir, evt)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			idx.log.Warn("modindex: watcher error for %s: %v", serverID, err)
		}
	}
}

func (idx *Index) handleEvent(serverID, serverDir string, evt fsnotify.Event) {
	if filepath.Ext(evt.Name) != ".jar" {
		return
	}
	filename := filepath.Base(evt.Name)
	ctx := context.Background()

	switch {
	case evt.Op&fsnotify.Remove == fsnotify.Remove, evt.Op&fsnotify.Rename == fsnotify.Rename:
		idx.remove(ctx, serverID, filename)
	case evt.Op&fsnotify.Create == fsnotify.Create, evt.Op&fsnotify.Write == fsnotify.Write:
		// A create or write is a plain upsert on (server_id, filename): no
		// delete step runs first and no ModRemoved is emitted, and a jar
		// that fails to parse leaves any existing row for it unchanged.
		idx.indexJar(ctx, serverID, evt.Name, filename)
	}
}

func (idx *Index) indexJar(ctx context.Context, serverID, path, filename string) {
	mod, err := ParseJar(path)
	if err != nil {
		idx.log.Warn("modindex: parsing %s: %v", filename, err)
		return
	}
	mod.ServerID = serverID
	mod.Filename = filename

	idx.enrich(ctx, path, mod)

	if err := idx.store.UpsertMod(ctx, mod); err != nil {
		idx.log.Error("modindex: upserting %s: %v", filename, err)
		return
	}
	idx.bus.Publish(events.Event{
		Kind:        events.KindModIndexed,
		ServerID:    serverID,
		Timestamp:   time.Now(),
		ModFilename: filename,
	})
}

func (idx *Index) remove(ctx context.Context, serverID, filename string) {
	if err := idx.store.DeleteMod(ctx, serverID, filename); err != nil {
		idx.log.Error("modindex: deleting %s: %v", filename, err)
		return
	}
	idx.bus.Publish(events.Event{
		Kind:        events.KindModRemoved,
		ServerID:    serverID,
		Timestamp:   time.Now(),
		ModFilename: filename,
	})
}

// enrich backfills mod.ModrinthID from the jar's SHA1 digest. Any failure
// (network, 404, disabled client) is silently non-fatal: the row is still
// indexed, just without the external id.
func (idx *Index) enrich(ctx context.Context, path string, mod *models.Mod) {
	if idx.modrinth == nil {
		return
	}
	sum, err := sha1File(path)
	if err != nil {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, modrinthLookupTimeout)
	defer cancel()
	vf, err := idx.modrinth.LookupBySHA1(lookupCtx, sum)
	if err != nil {
		return
	}
	mod.ModrinthID = vf.ProjectID
}

// initialBatchSize is how many rows RefreshAll hands to one UpsertModsBatch
// call (one transaction), so it never builds an unbounded slice for a
// directory with more mods than fit in one batch comfortably in memory.
const initialBatchSize = 1000

// RefreshAll walks serverDir's mods directory, parses every jar, and
// reconciles the result against the stored index: rows for jars no longer
// present are deleted, everything else is (re)inserted. The initial pass is
// written in batches of up to 1000 rows per transaction.
func (idx *Index) RefreshAll(ctx context.Context, serverID, serverDir string) error {
	modsDir := filepath.Join(serverDir, modsSubdir)
	entries, err := os.ReadDir(modsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	onDisk := make(map[string]struct{}, len(entries))
	batch := make([]*models.Mod, 0, initialBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.store.UpsertModsBatch(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jar" {
			continue
		}
		filename := entry.Name()
		onDisk[filename] = struct{}{}

		mod, err := ParseJar(filepath.Join(modsDir, filename))
		if err != nil {
			idx.log.Warn("modindex: parsing %s: %v", filename, err)
			continue
		}
		mod.ServerID = serverID
		mod.Filename = filename
		idx.enrich(ctx, filepath.Join(modsDir, filename), mod)

		batch = append(batch, mod)
		if len(batch) >= initialBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	existing, err := idx.store.ListServerMods(ctx, serverID)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if _, ok := onDisk[m.Filename]; !ok {
			idx.remove(ctx, serverID, m.Filename)
		}
	}
	return nil
}
