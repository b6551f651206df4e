package engine

import (
	"os"
	"strconv"
)

// DefaultPort is the LCP default UDP/TCP port (spec §6).
const DefaultPort = 9990

// Config collects the environment/configuration the core recognises
// (spec §6). Identity and the stores are supplied by the caller at
// construction; the ports and bind address may come from the
// environment, matching LCP_UDP_PORT, LCP_TCP_PORT and a bind-address
// override.
type Config struct {
	Identity string

	UDPPort int
	TCPPort int

	// BindAddress overrides interface auto-selection (spec §6, "Bind
	// address override (implementation-defined variable)"). Empty means
	// auto-select.
	BindAddress string
}

// ConfigFromEnv reads LCP_UDP_PORT, LCP_TCP_PORT and LCP_BIND_ADDRESS,
// falling back to DefaultPort and auto-selection. Identity is not read
// from the environment — spec §1 requires it be "supplied at
// construction time" by the caller.
func ConfigFromEnv(identity string) Config {
	return Config{
		Identity:    identity,
		UDPPort:     envPort("LCP_UDP_PORT", DefaultPort),
		TCPPort:     envPort("LCP_TCP_PORT", DefaultPort),
		BindAddress: os.Getenv("LCP_BIND_ADDRESS"),
	}
}

func envPort(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	p, err := strconv.Atoi(v)
	if err != nil || p <= 0 || p > 65535 {
		return fallback
	}
	return p
}
