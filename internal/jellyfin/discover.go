package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/config"
)

const (
	discoveryPort    = 7359
	discoveryMessage = "who is JellyfinServer?"
)

// Discover broadcasts the Jellyfin discovery message on the LAN and collects
// replies until the context or the discovery window expires.
func Discover(ctx context.Context) ([]DiscoveredServer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort}
	if _, err := conn.WriteToUDP([]byte(discoveryMessage), broadcast); err != nil {
		return nil, fmt.Errorf("failed to send discovery broadcast: %w", err)
	}

	deadline := time.Now().Add(config.GetTimeouts().Discovery)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var servers []DiscoveredServer
	seen := make(map[string]bool)
	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Deadline reached; discovery window is over
			break
		}

		var server DiscoveredServer
		if err := json.Unmarshal(buf[:n], &server); err != nil {
			log.Debug().Err(err).Str("from", addr.String()).Msg("Ignoring malformed discovery reply")
			continue
		}
		if server.ID == "" || seen[server.ID] {
			continue
		}
		seen[server.ID] = true
		servers = append(servers, server)

		log.Debug().
			Str("id", server.ID).
			Str("name", server.Name).
			Str("address", server.Address).
			Msg("Discovered Jellyfin server")
	}

	return servers, nil
}

// ResolveAddress normalizes a user-entered address and validates candidates
// against /System/Info/Public, returning the first address that answers
// together with its public info.
func ResolveAddress(ctx context.Context, input string) (string, *PublicSystemInfo, error) {
	candidates := addressCandidates(input)
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("invalid server address %q", input)
	}

	var lastErr error
	for _, candidate := range candidates {
		client := NewClient(candidate, "", "resolver")
		info, err := client.PublicSystemInfo(ctx)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("candidate", candidate).Msg("Address candidate did not answer")
			continue
		}
		return candidate, info, nil
	}
	return "", nil, fmt.Errorf("no candidate for %q answered: %w", input, lastErr)
}

// addressCandidates expands an input address into scheme/port permutations,
// most specific first.
func addressCandidates(input string) []string {
	input = strings.TrimSpace(strings.TrimRight(input, "/"))
	if input == "" {
		return nil
	}

	// Already has a scheme: try as given, then the default port variant
	if strings.Contains(input, "://") {
		u, err := url.Parse(input)
		if err != nil || u.Host == "" {
			return nil
		}
		candidates := []string{input}
		if u.Port() == "" && u.Scheme == "http" {
			candidates = append(candidates, fmt.Sprintf("http://%s:8096", u.Host))
		}
		return candidates
	}

	hasPort := false
	if _, _, err := net.SplitHostPort(input); err == nil {
		hasPort = true
	}

	if hasPort {
		return []string{"http://" + input, "https://" + input}
	}
	return []string{
		"http://" + input + ":8096",
		"https://" + input + ":8920",
		"https://" + input,
		"http://" + input,
	}
}
