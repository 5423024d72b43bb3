// Package discovery finds a relay on the local network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

var ErrNoRelay = errors.New("no relay found on the local network")

// Advertise registers a relay listening on port. Call Shutdown on the result
// when the relay stops.
func Advertise(service string, domain string, port int) (*zeroconf.Server, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", "CollabText", host),
		service,
		domain,
		port,
		[]string{"txtv=0", "path=/ws"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service %s: %w", service, err)
	}
	glog.Infof("[d]registered %s on port %d\n", service, port)
	return server, nil
}

// Browse returns the http base URL of the first relay that answers before ctx
// is done.
func Browse(ctx context.Context, service string, domain string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("init mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			url, ok := entryURL(entry)
			if !ok {
				continue
			}
			glog.Infof("[d]discovered %s at %s\n", entry.Instance, url)
			select {
			case found <- url:
			default:
			}
			cancel()
		}
	}(entries)

	if err := resolver.Browse(browseCtx, service, domain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", service, err)
	}
	<-browseCtx.Done()

	select {
	case url := <-found:
		return url, nil
	default:
		return "", ErrNoRelay
	}
}

func entryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case 0 < len(entry.AddrIPv4):
		ip = entry.AddrIPv4[0]
	case 0 < len(entry.AddrIPv6):
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}
