package port

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// probeAttempts bounds how often Allocate asks the OS for a fresh ephemeral
// port when the answer collides with a port already handed out.
const probeAttempts = 8

// Allocator hands out TCP ports to dashboards, keyed by source path.
//
// With no range configured it asks the OS for an ephemeral port by binding
// port 0 and releasing the listener straight away. The number is only a
// hint: another process may claim it before the child binds. That race is
// accepted and not retried.
type Allocator struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	allocated map[string]int // key → port
	usedPorts map[int]string // port → key
}

// NewAllocator creates an allocator backed by OS ephemeral ports.
func NewAllocator() *Allocator {
	return NewRangeAllocator(0, 0)
}

// NewRangeAllocator creates an allocator restricted to [min, max].
// A zero range falls back to OS ephemeral ports.
func NewRangeAllocator(minPort, maxPort int) *Allocator {
	return &Allocator{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[string]int),
		usedPorts: make(map[int]string),
	}
}

// Allocate picks a port for key.
// Idempotent: returns the same port while key holds an allocation.
func (a *Allocator) Allocate(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.allocated[key]; ok {
		return port, nil
	}

	var (
		port int
		err  error
	)
	if a.minPort == 0 && a.maxPort == 0 {
		port, err = a.allocateEphemeral()
	} else {
		port, err = a.allocateInRange()
	}
	if err != nil {
		return 0, err
	}

	a.allocated[key] = port
	a.usedPorts[port] = key
	return port, nil
}

func (a *Allocator) allocateEphemeral() (int, error) {
	for attempts := 0; attempts < probeAttempts; attempts++ {
		port, err := Ephemeral()
		if err != nil {
			return 0, err
		}
		if _, taken := a.usedPorts[port]; taken {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("no unused ephemeral port after %d probes", probeAttempts)
}

func (a *Allocator) allocateInRange() (int, error) {
	rangeSize := a.maxPort - a.minPort + 1
	if len(a.usedPorts) >= rangeSize {
		return 0, fmt.Errorf("port range exhausted (%d-%d)", a.minPort, a.maxPort)
	}

	// Try random ports until we find one that's available
	for attempts := 0; attempts < rangeSize*2; attempts++ {
		port := a.minPort + rand.Intn(rangeSize)
		if _, taken := a.usedPorts[port]; taken {
			continue
		}
		if !isPortAvailable(port) {
			continue
		}
		return port, nil
	}

	// Exhaustive scan as fallback
	for port := a.minPort; port <= a.maxPort; port++ {
		if _, taken := a.usedPorts[port]; taken {
			continue
		}
		if !isPortAvailable(port) {
			continue
		}
		return port, nil
	}

	return 0, fmt.Errorf("no available ports in range %d-%d", a.minPort, a.maxPort)
}

// Release frees the port allocated to key.
func (a *Allocator) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.allocated[key]; ok {
		delete(a.usedPorts, port)
		delete(a.allocated, key)
	}
}

// Port returns the port currently allocated to key, or 0 if none.
func (a *Allocator) Port(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated[key]
}

// Owner returns the key holding port, if any.
func (a *Allocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, ok := a.usedPorts[port]
	return key, ok
}

// Ephemeral asks the OS for a free TCP port and releases it immediately.
func Ephemeral() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("probing ephemeral port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
