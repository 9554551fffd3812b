// Package upnp implements the UPnP IGD port-mapping lease manager: it
// discovers a router client on the LAN, leases external ports to the
// supervisor's servers, and renews those leases in the background before
// they expire.
package upnp

import (
	"context"
	"errors"
	"fmt"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"golang.org/x/sync/errgroup"
)

// routerClient is the subset of the three IGD1/IGD2 client types discopanel's
// mapper targets that the lease manager actually drives.
type routerClient interface {
	AddPortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error

	DeletePortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error

	GetExternalIPAddress() (NewExternalIPAddress string, err error)
}

// ErrNoGateway is returned when discovery finds zero or more-than-one IGD
// client on the network; the lease manager has no reliable way to choose
// among multiple routers.
var ErrNoGateway = errors.New("upnp: no single gateway client found")

// discover races IGD1 WANIPConnection, IGD2 WANIPConnection and IGD1
// WANPPPConnection clients and returns whichever single client answered.
// Grounded on the discopanel proxy package's TryMapper, generalized to run
// through a shared dial once at construction time.
func discover(ctx context.Context) (routerClient, error) {
	tasks, ctx := errgroup.WithContext(ctx)

	var ip1Clients []*internetgateway2.WANIPConnection1
	tasks.Go(func() error {
		var err error
		ip1Clients, _, err = internetgateway2.NewWANIPConnection1ClientsCtx(ctx)
		return err
	})
	var ip2Clients []*internetgateway2.WANIPConnection2
	tasks.Go(func() error {
		var err error
		ip2Clients, _, err = internetgateway2.NewWANIPConnection2ClientsCtx(ctx)
		return err
	})
	var ppp1Clients []*internetgateway2.WANPPPConnection1
	tasks.Go(func() error {
		var err error
		ppp1Clients, _, err = internetgateway2.NewWANPPPConnection1ClientsCtx(ctx)
		return err
	})

	if err := tasks.Wait(); err != nil {
		return nil, fmt.Errorf("discovering gateway clients: %w", err)
	}

	switch {
	case len(ip2Clients) == 1:
		return ip2Clients[0], nil
	case len(ip1Clients) == 1:
		return ip1Clients[0], nil
	case len(ppp1Clients) == 1:
		return ppp1Clients[0], nil
	default:
		return nil, ErrNoGateway
	}
}
