package upnp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu       sync.Mutex
	added    []uint16
	deleted  []uint16
	addErr   error
	addCalls int
}

func (f *fakeRouter) AddPortMapping(_ string, extPort uint16, _ string, _ uint16, _ string, _ bool, _ string, _ uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, extPort)
	return nil
}

func (f *fakeRouter) DeletePortMapping(_ string, extPort uint16, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, extPort)
	return nil
}

func (f *fakeRouter) GetExternalIPAddress() (string, error) {
	return "203.0.113.5", nil
}

func newTestManager(router routerClient) *Manager {
	return &Manager{
		client:        router,
		mappings:      make(map[mappingKey]*Mapping),
		byServer:      make(map[string]mappingKey),
		renewInterval: time.Hour,
		stop:          make(chan struct{}),
	}
}

func TestAddThenRemove(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)

	mapping, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, uint16(25565), mapping.ExternalPort)
	assert.Equal(t, ProtocolTCP, mapping.Protocol)

	require.NoError(t, m.Remove(context.Background(), "srv-1"))
	assert.Equal(t, []uint16{25565}, router.deleted)
}

func TestAddRejectsSamePortFromADifferentServer(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)

	_, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)

	// A second server requesting the exact same (port, protocol) must
	// conflict, regardless of which server already holds it.
	_, err = m.Add(context.Background(), "srv-2", 25565, 25565, "", "", "10.0.0.6")
	var dup *ErrPortAlreadyMapped
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "srv-1", dup.ServerID)
	assert.Equal(t, uint16(25565), dup.Port)
}

func TestAddAllowsDifferentPortsForDifferentServers(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)

	_, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)

	_, err = m.Add(context.Background(), "srv-2", 25566, 25566, "", "", "10.0.0.6")
	assert.NoError(t, err)
}

func TestAddRemoveAddSucceeds(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)

	_, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)
	require.NoError(t, m.Remove(context.Background(), "srv-1"))

	_, err = m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	assert.NoError(t, err)
}

func TestRemoveAllTearsDownEveryLease(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)

	_, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "srv-2", 25566, 25566, "", "", "10.0.0.6")
	require.NoError(t, err)

	require.NoError(t, m.RemoveAll(context.Background()))
	assert.Len(t, router.deleted, 2)
	assert.Empty(t, m.mappings)
	assert.Empty(t, m.byServer)
}

func TestRenewAllReportsFailureViaCallback(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)
	_, err := m.Add(context.Background(), "srv-1", 25565, 25565, "", "", "10.0.0.5")
	require.NoError(t, err)

	router.addErr = errors.New("router rebooted")

	var gotErr error
	var gotServer string
	done := make(chan struct{})
	m.OnUnavailable(func(serverID string, err error) {
		gotServer, gotErr = serverID, err
		close(done)
	})

	m.renewAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onUnavailable callback never fired")
	}
	assert.Equal(t, "srv-1", gotServer)
	assert.Error(t, gotErr)
}

func TestRemoveUnmappedServerIsNoOp(t *testing.T) {
	router := &fakeRouter{}
	m := newTestManager(router)
	assert.NoError(t, m.Remove(context.Background(), "never-mapped"))
	assert.Empty(t, router.deleted)
}
