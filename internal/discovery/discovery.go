// Package discovery browses the local network for GeoTiny seismometers
// announcing the _geotiny._tcp mDNS service.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const service = "_geotiny._tcp"

// Station is one discovered seismometer.
type Station struct {
	Instance  string   `json:"instance"` // advertised name, e.g. "GT-3 rooftop"
	Hostname  string   `json:"hostname"` // DNS hostname, e.g. "gt3-rooftop.local."
	Addresses []net.IP `json:"addresses"`
	Port      int      `json:"port"`
	TXT       []string `json:"txt"`
}

// Browse blocks for the given timeout and returns deduplicated stations
// found on the local network.
func Browse(timeout time.Duration) ([]Station, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Station)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				found[key] = Station{
					Instance:  unescapeInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-done

	out := make([]Station, 0, len(found))
	for _, s := range found {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

// unescapeInstance undoes the zeroconf space escaping in instance names.
func unescapeInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
