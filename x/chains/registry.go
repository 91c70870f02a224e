package chains

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// UnsupportedTransportID is returned for chains that have no mapping.
const UnsupportedTransportID uint16 = 0

var ErrEmptyName = errors.New("chain name is required")

// Endpoint describes how to reach a counterpart ledger.
type Endpoint struct {
	Name        string `json:"name"`
	TransportID uint16 `json:"transport_id"`
	Descriptor  string `json:"descriptor"`
}

// Supported reports whether the endpoint can be dispatched to.
func (e Endpoint) Supported() bool {
	return e.Descriptor != "" && e.TransportID != UnsupportedTransportID
}

// Registry maps chain names to endpoints. Entries are overwritten, never removed.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]Endpoint
	byTransport map[uint16]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName:      make(map[string]Endpoint),
		byTransport: make(map[uint16]string),
	}
}

// SetEndpoint inserts or overwrites the endpoint for name.
func (r *Registry) SetEndpoint(name, descriptor string, transportID uint16) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[name]; ok && r.byTransport[prev.TransportID] == name {
		delete(r.byTransport, prev.TransportID)
	}
	r.byName[name] = Endpoint{Name: name, TransportID: transportID, Descriptor: descriptor}
	if transportID != UnsupportedTransportID {
		r.byTransport[transportID] = name
	}
	return nil
}

// ResolveTransportID returns 0 for unknown or unmapped chains.
func (r *Registry) ResolveTransportID(name string) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.byName[name]
	if !ok || !ep.Supported() {
		return UnsupportedTransportID
	}
	return ep.TransportID
}

func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.byName[name]
	return ok && ep.Supported()
}

func (r *Registry) Lookup(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.byName[name]
	return ep, ok
}

// NameByTransportID is the reverse mapping used to address replies.
func (r *Registry) NameByTransportID(id uint16) (string, bool) {
	if id == UnsupportedTransportID {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byTransport[id]
	if !ok || !r.byName[name].Supported() {
		return "", false
	}
	return name, true
}

// Endpoints returns all entries sorted by name.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	out := make([]Endpoint, 0, len(r.byName))
	for _, ep := range r.byName {
		out = append(out, ep)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
