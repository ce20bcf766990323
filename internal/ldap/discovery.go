package ldap

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// SRVDiscovery locates domain controllers through DNS SRV records.
type SRVDiscovery struct {
	resolver *net.Resolver
	log      Logger
}

// NewSRVDiscovery creates a new SRV discovery instance.
func NewSRVDiscovery(log Logger) *SRVDiscovery {
	if log == nil {
		log = NopLogger()
	}
	return &SRVDiscovery{
		resolver: net.DefaultResolver,
		log:      log.Named("discovery"),
	}
}

// DiscoverServers resolves LDAP servers for a domain in preference
// order: _ldaps._tcp (LDAPS), then _ldap._tcp (LDAP/StartTLS), then
// _gc._tcp (global catalog). When no SRV records resolve at all, the
// bare domain on the standard ports is returned as a fallback.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	d.log.Debug("starting server discovery", map[string]any{"domain": domain})

	services := []struct {
		name   string
		useTLS bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
		{"_gc._tcp." + domain, false},
	}

	var servers []*ServerInfo
	for _, svc := range services {
		found, err := d.lookupSRV(ctx, svc.name, svc.useTLS)
		if err != nil {
			d.log.Debug("SRV lookup failed, trying next service", map[string]any{
				"service": svc.name,
				"error":   err.Error(),
			})
			continue
		}
		servers = append(servers, found...)

		// LDAPS answers settle it; no need to consult weaker services.
		if svc.useTLS && len(found) > 0 {
			break
		}
	}

	if len(servers) == 0 {
		d.log.Debug("no SRV records found, using fallback servers", map[string]any{"domain": domain})
		return fallbackServers(domain), nil
	}

	sortServersByPriority(servers)

	d.log.Debug("server discovery completed", map[string]any{
		"domain":       domain,
		"server_count": len(servers),
	})
	return servers, nil
}

// lookupSRV resolves one SRV service name into server candidates.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}

	return servers, nil
}

// fallbackServers returns the bare domain on the standard AD ports,
// LDAPS preferred.
func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority orders servers per RFC 2782: ascending
// priority, then descending weight within a priority band.
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// ValidateServerInfo checks that a server candidate is usable.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}
	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}
	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}
	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}
	return nil
}

// ServerInfoToURL formats a server candidate as an LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, server.Host, server.Port)
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into a server
// candidate. Explicitly configured URLs sort ahead of discovered ones.
func ParseLDAPURL(url string) (*ServerInfo, error) {
	if url == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	var useTLS bool
	switch {
	case strings.HasPrefix(url, "ldaps://"):
		useTLS = true
		url = strings.TrimPrefix(url, "ldaps://")
	case strings.HasPrefix(url, "ldap://"):
		url = strings.TrimPrefix(url, "ldap://")
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	// Strip any path component.
	if idx := strings.IndexByte(url, '/'); idx >= 0 {
		url = url[:idx]
	}

	host := url
	port := 389
	if useTLS {
		port = 636
	}

	if idx := strings.LastIndexByte(url, ':'); idx >= 0 {
		host = url[:idx]
		parsed, err := strconv.Atoi(url[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", url[idx+1:])
		}
		port = parsed
	}

	server := &ServerInfo{
		Host:     host,
		Port:     port,
		UseTLS:   useTLS,
		Priority: 0,
		Weight:   100,
		Source:   "config",
	}

	return server, ValidateServerInfo(server)
}
