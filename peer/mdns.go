package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/progrium/dchan-go/mux"
	"github.com/progrium/dchan-go/transport"
)

const (
	// ServiceType is the DNS-SD service advertised by listeners.
	ServiceType = "_dchan._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// ErrNotFound is returned when no advertised instance matches.
var ErrNotFound = errors.New("peer: no instance found")

// Service describes an advertised listener.
type Service struct {
	Instance string
	Scheme   string
	Addr     string
}

// Advertise announces a listener reachable with scheme on port. Call
// Shutdown on the returned server to stop advertising.
func Advertise(instance, scheme string, port int) (*zeroconf.Server, error) {
	if scheme == "stdio" || scheme == "mdns" {
		return nil, fmt.Errorf("cannot advertise scheme '%s'", scheme)
	}
	return zeroconf.Register(instance, ServiceType, Domain, port, []string{"scheme=" + scheme}, nil)
}

// Browse sends every service found to found until ctx is done.
func Browse(ctx context.Context, found func(Service)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return err
	}
	for e := range entries {
		if svc, ok := service(e); ok {
			found(svc)
		}
	}
	return nil
}

func service(e *zeroconf.ServiceEntry) (Service, bool) {
	svc := Service{Instance: strings.ReplaceAll(e.Instance, `\ `, " ")}
	for _, txt := range e.Text {
		if v, ok := strings.CutPrefix(txt, "scheme="); ok {
			svc.Scheme = v
		}
	}
	if svc.Scheme == "" {
		return svc, false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return svc, false
	}
	svc.Addr = net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))
	return svc, true
}

// Lookup browses until an instance with the given name is found.
func Lookup(ctx context.Context, instance string) (Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var match *Service
	err := Browse(ctx, func(svc Service) {
		if match == nil && svc.Instance == instance {
			match = &svc
			cancel()
		}
	})
	if match != nil {
		return *match, nil
	}
	if err != nil {
		return Service{}, err
	}
	return Service{}, ErrNotFound
}

func dialMDNS(ctx context.Context, instance string, cfg mux.Config) (transport.Conn, error) {
	svc, err := Lookup(ctx, instance)
	if err != nil {
		return nil, err
	}
	d, ok := Dialers[svc.Scheme]
	if !ok || svc.Scheme == "mdns" {
		return nil, fmt.Errorf("instance '%s' advertises unknown scheme '%s'", instance, svc.Scheme)
	}
	return d(ctx, svc.Addr, cfg)
}
