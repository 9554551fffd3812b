package upnp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/pkg/network"
)

// leaseDuration is the lease length requested from the gateway on every
// Add/renew call; routers commonly cap this lower but accept the request.
const leaseDuration = 3600 // seconds

// ProtocolTCP is the protocol every Minecraft server listener uses; callers
// that don't care pass "" to Add and get this default.
const ProtocolTCP = "TCP"

// Mapping describes one active external-port lease.
type Mapping struct {
	ServerID     string
	ExternalPort uint16
	InternalPort uint16
	InternalHost string
	Protocol     string
	Description  string
}

// mappingKey is how spec.md §3 keys a UPnP Mapping: by (external-port,
// protocol), not by the server that requested it — two servers racing for
// the same port must conflict even though they're different owners.
type mappingKey struct {
	port     uint16
	protocol string
}

// Manager owns discovery of a single router client and the set of leases
// currently held on behalf of running servers. It renews every lease at
// half its requested duration so a slow router clock never lets one lapse.
type Manager struct {
	mu       sync.Mutex
	client   routerClient
	mappings map[mappingKey]*Mapping // keyed by (external port, protocol)
	byServer map[string]mappingKey   // serverID -> the key it currently holds

	renewInterval time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup

	onUnavailable func(serverID string, err error)
}

// NewManager discovers the gateway client and returns a ready Manager. A
// discovery failure (no router, or more than one candidate) is reported
// through ctlerrors.ErrTransientNetwork since a later retry may succeed if
// the network topology changes.
func NewManager(ctx context.Context) (*Manager, error) {
	client, err := discover(ctx)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "upnp gateway discovery", err)
	}
	m := &Manager{
		client:        client,
		mappings:      make(map[mappingKey]*Mapping),
		byServer:      make(map[string]mappingKey),
		renewInterval: leaseDuration / 2 * time.Second,
		stop:          make(chan struct{}),
	}
	return m, nil
}

// OnUnavailable registers a callback invoked when a background renewal
// fails; the process entrypoint (cmd/controlplane) uses this to publish
// events.KindUPnPUnavailable.
func (m *Manager) OnUnavailable(fn func(serverID string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnavailable = fn
}

// Add leases externalPort -> internalPort for serverID, per spec.md §4.2's
// add(port, description, protocol) contract. protocol defaults to
// ProtocolTCP and description to "mccontrold:<serverID>" when empty. If
// internalHost is empty the host's best local IP is resolved via
// pkg/network. Adding a (port, protocol) pair already held by this manager
// — by this server or any other — is ErrPortAlreadyMapped; the mapping is
// keyed by (port, protocol), not by server, so two servers racing for the
// same port correctly conflict.
func (m *Manager) Add(ctx context.Context, serverID string, externalPort, internalPort uint16, protocol, description, internalHost string) (*Mapping, error) {
	if protocol == "" {
		protocol = ProtocolTCP
	}
	if description == "" {
		description = "mccontrold:" + serverID
	}
	if internalHost == "" {
		internalHost = network.GetHostIP()
		if internalHost == "" {
			return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "upnp: could not resolve a local host address", nil)
		}
	}

	key := mappingKey{port: externalPort, protocol: protocol}

	m.mu.Lock()
	if existing, ok := m.mappings[key]; ok {
		m.mu.Unlock()
		return nil, &ErrPortAlreadyMapped{ServerID: existing.ServerID, Port: existing.ExternalPort}
	}
	client := m.client
	m.mu.Unlock()

	err := client.AddPortMapping("", externalPort, protocol, internalPort, internalHost, true, description, leaseDuration)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "adding port mapping", err)
	}

	mapping := &Mapping{
		ServerID: serverID, ExternalPort: externalPort, InternalPort: internalPort,
		InternalHost: internalHost, Protocol: protocol, Description: description,
	}
	m.mu.Lock()
	m.mappings[key] = mapping
	m.byServer[serverID] = key
	m.mu.Unlock()
	return mapping, nil
}

// Remove releases serverID's mapping, if any. Removing an unmapped server
// is a no-op, matching the idempotent-stop idiom the lifecycle manager uses
// elsewhere.
func (m *Manager) Remove(ctx context.Context, serverID string) error {
	m.mu.Lock()
	key, ok := m.byServer[serverID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	mapping := m.mappings[key]
	client := m.client
	m.mu.Unlock()

	if err := client.DeletePortMapping("", mapping.ExternalPort, mapping.Protocol); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "removing port mapping", err)
	}

	m.mu.Lock()
	delete(m.mappings, key)
	delete(m.byServer, serverID)
	m.mu.Unlock()
	return nil
}

// RemoveAll tears down every held lease, collecting (not stopping at) the
// first failure so a shutdown sequence releases as many leases as possible.
func (m *Manager) RemoveAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byServer))
	for id := range m.byServer {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Remove(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartRenewal launches the background loop that re-requests every active
// lease at half its duration. Stop ends the loop.
func (m *Manager) StartRenewal(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.renewAll()
			}
		}
	}()
}

// Stop ends the renewal loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) renewAll() {
	m.mu.Lock()
	mappings := make([]*Mapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		mappings = append(mappings, mp)
	}
	client := m.client
	onUnavailable := m.onUnavailable
	m.mu.Unlock()

	for _, mp := range mappings {
		err := client.AddPortMapping("", mp.ExternalPort, mp.Protocol, mp.InternalPort, mp.InternalHost, true, mp.Description, leaseDuration)
		if err != nil && onUnavailable != nil {
			onUnavailable(mp.ServerID, fmt.Errorf("renewing upnp lease: %w", err))
		}
	}
}

// ErrPortAlreadyMapped is returned by Add when the (port, protocol) pair is
// already leased by this manager, whichever server holds it; ServerID and
// Port name the existing lease.
type ErrPortAlreadyMapped struct {
	ServerID string
	Port     uint16
}

func (e *ErrPortAlreadyMapped) Error() string {
	return fmt.Sprintf("server %s already holds a lease on port %d", e.ServerID, e.Port)
}
