package rudp

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// registry is the process-wide map from local endpoint to shared
// Multiplexer (spec.md §4.6). Go's garbage collector has no notion of the
// spec's "weak reference, torn down once idle"; a refcount bumped on every
// acquireMultiplexer and dropped on every releaseMultiplexer is the
// idiomatic substitute, with teardown happening deterministically at the
// count reaching zero rather than at some unspecified future GC pass.
var (
	registryMu sync.Mutex
	registry   = map[string]*Multiplexer{}
)

// isEphemeral reports whether address leaves port selection to the OS, in
// which case binds must never be deduplicated through the registry — each
// caller wants its own fresh local port.
func isEphemeral(address string) bool {
	if address == "" {
		return true
	}
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return false
	}
	return port == "" || port == "0"
}

// acquireMultiplexer returns the shared Multiplexer bound to network/address,
// creating and registering one if none exists yet, and bumping its
// reference count either way.
func acquireMultiplexer(network, address string, cfg *Config, log zerolog.Logger) (*Multiplexer, error) {
	ephemeral := isEphemeral(address)
	key := network + "|" + address

	if !ephemeral {
		registryMu.Lock()
		if m, ok := registry[key]; ok {
			m.refCount++
			registryMu.Unlock()
			return m, nil
		}
		registryMu.Unlock()
	}

	substrate, err := listenSubstrate(network, address)
	if err != nil {
		return nil, wrapSubstrateErr(err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if !ephemeral {
		if m, ok := registry[key]; ok {
			// Lost the race to bind the same explicit address; use the
			// winner's multiplexer and discard our own substrate.
			m.refCount++
			substrate.Close()
			return m, nil
		}
	}

	actualKey := key
	if ephemeral {
		actualKey = network + "|" + substrate.LocalAddr().String()
	}
	m := newMultiplexer(substrate, cfg, log, actualKey)
	m.refCount = 1
	registry[actualKey] = m
	return m, nil
}

// acquireMultiplexerRef bumps m's reference count directly, for a Conn that
// shares an already-resolved Multiplexer (e.g. one spawned by
// Multiplexer.acceptHandshake) rather than looking one up by address.
func acquireMultiplexerRef(m *Multiplexer) {
	registryMu.Lock()
	m.refCount++
	registryMu.Unlock()
}

// releaseMultiplexer drops one reference to m, tearing it down once the
// count reaches zero.
func releaseMultiplexer(m *Multiplexer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	m.refCount--
	if m.refCount > 0 {
		return
	}
	delete(registry, m.key)
	m.shutdown()
}
