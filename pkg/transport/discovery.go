package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"

	"github.com/astromechza/menuroom/pkg/errs"
)

const (
	ServiceType   = "_menuroom._tcp"
	serviceDomain = "local."
)

// Advertise registers the relay on the local network. The returned function withdraws it.
func Advertise(port int) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("menuroom-%s", host),
		ServiceType,
		serviceDomain,
		port,
		[]string{"txtv=1", "path=/"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	slog.Info("mDNS service registered", "service", ServiceType, "port", port)
	return server.Shutdown, nil
}

// Discover browses the local network until the first relay answers or ctx is done, and
// returns its base URL.
func Discover(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", errs.Network("discover", fmt.Errorf("failed to initialize mDNS resolver: %w", err))
	}
	entries := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := resolver.Browse(ctx, ServiceType, serviceDomain, entries); err != nil {
		return "", errs.Network("discover", fmt.Errorf("failed to browse for mDNS services: %w", err))
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", errs.Network("discover", fmt.Errorf("no relay found"))
			}
			if u := entryURL(entry); u != "" {
				slog.Info("mDNS discovered relay", "instance", entry.Instance, "url", u)
				return u, nil
			}
		case <-ctx.Done():
			return "", errs.Network("discover", ctx.Err())
		}
	}
}

func entryURL(entry *zeroconf.ServiceEntry) string {
	switch {
	case len(entry.AddrIPv4) > 0:
		return fmt.Sprintf("http://%s:%d", entry.AddrIPv4[0], entry.Port)
	case len(entry.AddrIPv6) > 0:
		return fmt.Sprintf("http://[%s]:%d", entry.AddrIPv6[0], entry.Port)
	}
	return ""
}
