package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrUnknownNumber = errors.New("routing: dialed number not assigned to an organization")

// Directory resolves dialed numbers to organizations and organizations to
// their forward destinations.
type Directory interface {
	OrganizationForNumber(ctx context.Context, number string) (string, error)
	Destinations(ctx context.Context, organizationID string) ([]WeightedDestination, error)
}

type WeightedDestination struct {
	// TargetURI is a dial target, e.g. +15551234567 or sip:agent-123@pbx.example.com.
	TargetURI string
	// Weight must be > 0; others are skipped.
	Weight int
}

// MemoryDirectory is loaded from configuration at startup.
type MemoryDirectory struct {
	mu           sync.RWMutex
	numbers      map[string]string
	destinations map[string][]WeightedDestination
}

func NewMemoryDirectory(numbers map[string]string, destinations map[string][]WeightedDestination) *MemoryDirectory {
	d := &MemoryDirectory{
		numbers:      make(map[string]string, len(numbers)),
		destinations: make(map[string][]WeightedDestination, len(destinations)),
	}
	for n, org := range numbers {
		d.numbers[normalizeNumber(n)] = org
	}
	for org, dests := range destinations {
		d.destinations[org] = append([]WeightedDestination(nil), dests...)
	}
	return d
}

func (d *MemoryDirectory) OrganizationForNumber(_ context.Context, number string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.numbers[normalizeNumber(number)]
	if !ok {
		return "", ErrUnknownNumber
	}
	return org, nil
}

func (d *MemoryDirectory) Destinations(_ context.Context, organizationID string) ([]WeightedDestination, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]WeightedDestination(nil), d.destinations[organizationID]...), nil
}

// SetDestinations replaces an organization's destinations.
func (d *MemoryDirectory) SetDestinations(organizationID string, dests []WeightedDestination) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destinations[organizationID] = append([]WeightedDestination(nil), dests...)
}

func normalizeNumber(n string) string {
	return strings.ReplaceAll(strings.TrimSpace(n), " ", "")
}
