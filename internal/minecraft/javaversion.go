package minecraft

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// javaVersionRefreshInterval is the 72h floor spec.md §3 places on
// Java-Version Map refreshes.
const javaVersionRefreshInterval = 72 * time.Hour

// javaMetadataFetchConcurrency bounds how many per-version metadata
// documents RefreshAll fetches at once; the manifest can list hundreds of
// versions and Mojang's CDN is shared with every other installer client.
const javaMetadataFetchConcurrency = 8

// JavaRange is the [min, max] Minecraft version span a Java runtime label
// covers, in manifest order (oldest first), plus the Java major version
// (e.g. 21) Mojang's manifest records for that label.
type JavaRange struct {
	MinMC        string
	MaxMC        string
	MajorVersion int
}

// JavaVersionMap caches, per spec.md §3, which Java runtime label a range of
// Minecraft versions requires. It is a hint the lifecycle manager logs
// against, never a hard gate (an unknown mapping means no gate).
type JavaVersionMap struct {
	mu          sync.RWMutex
	byLabel     map[string]JavaRange
	byVersion   map[string]string // mcVersion -> label
	lastRefresh time.Time
}

// NewJavaVersionMap returns an empty map; call RefreshAll before relying on
// it, or let the scheduler's periodic task populate it.
func NewJavaVersionMap() *JavaVersionMap {
	return &JavaVersionMap{
		byLabel:   make(map[string]JavaRange),
		byVersion: make(map[string]string),
	}
}

// ShouldRefresh reports whether 72h have elapsed since the last successful
// RefreshAll (or it has never run).
func (m *JavaVersionMap) ShouldRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastRefresh) >= javaVersionRefreshInterval
}

// LabelFor returns the Java runtime label recorded for mcVersion, if any.
func (m *JavaVersionMap) LabelFor(mcVersion string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	label, ok := m.byVersion[mcVersion]
	return label, ok
}

// RangeFor returns the MC version span a label covers.
func (m *JavaVersionMap) RangeFor(label string) (JavaRange, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byLabel[label]
	return r, ok
}

// RefreshAll walks every release in the manifest, fetching each version's
// javaVersion.component label and folding it into byLabel/byVersion. Fetches
// run with bounded concurrency via a semaphore so one refresh doesn't open
// hundreds of simultaneous connections to Mojang's CDN.
func (m *JavaVersionMap) RefreshAll(ctx context.Context, client *ManifestClient) error {
	manifest, err := client.Fetch(ctx)
	if err != nil {
		return err
	}

	releases := make([]VersionEntry, 0, len(manifest.Versions))
	for _, v := range manifest.Versions {
		if v.Type == "release" {
			releases = append(releases, v)
		}
	}
	// Oldest first so the range-building pass below sees versions in
	// ascending order.
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].ReleaseTime.Before(releases[j].ReleaseTime)
	})

	labels := make([]string, len(releases))
	majors := make([]int, len(releases))
	sem := semaphore.NewWeighted(javaMetadataFetchConcurrency)
	var wg sync.WaitGroup
	for i, v := range releases {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, v VersionEntry) {
			defer wg.Done()
			defer sem.Release(1)
			meta, err := client.VersionMetadata(ctx, v.URL)
			if err != nil {
				return
			}
			labels[i] = meta.JavaVersion.Component
			majors[i] = meta.JavaVersion.MajorVersion
		}(i, v)
	}
	wg.Wait()

	byLabel := make(map[string]JavaRange)
	byVersion := make(map[string]string)
	for i, v := range releases {
		label := labels[i]
		if label == "" {
			continue
		}
		byVersion[v.ID] = label
		r, ok := byLabel[label]
		if !ok {
			r.MinMC = v.ID
		}
		r.MaxMC = v.ID
		r.MajorVersion = majors[i]
		byLabel[label] = r
	}

	m.mu.Lock()
	m.byLabel = byLabel
	m.byVersion = byVersion
	m.lastRefresh = time.Now()
	m.mu.Unlock()
	return nil
}
