package core

import (
	"fmt"
	"sync"
)

// ── Codec registry ────────────────────────────────────────────────────────────

type codecPair struct {
	dec Decoder
	enc Encoder
}

// CodecRegistry is a thread-safe Registry keyed by Format.
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[Format]codecPair
}

// NewRegistry returns an empty CodecRegistry.
func NewRegistry() *CodecRegistry {
	return &CodecRegistry{codecs: make(map[Format]codecPair)}
}

func (r *CodecRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.codecs[f]
	p.dec = d
	r.codecs[f] = p
}

func (r *CodecRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.codecs[f]
	p.enc = e
	r.codecs[f] = p
}

func (r *CodecRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.codecs[f]
	return p.dec, p.dec != nil
}

func (r *CodecRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.codecs[f]
	return p.enc, p.enc != nil
}

// ── Provider set ──────────────────────────────────────────────────────────────

// ProviderSet is the ordered, immutable list of configured providers.  The
// declaration order is the fallback ranking when no provider is healthy.
type ProviderSet struct {
	ordered []Provider
	byName  map[string]Provider
}

// NewProviderSet builds a set, rejecting empty or duplicate names.
func NewProviderSet(providers ...Provider) (*ProviderSet, error) {
	s := &ProviderSet{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil || p.Name() == "" {
			return nil, fmt.Errorf("provider set: provider without a name")
		}
		if _, dup := s.byName[p.Name()]; dup {
			return nil, fmt.Errorf("provider set: duplicate provider %q", p.Name())
		}
		s.byName[p.Name()] = p
		s.ordered = append(s.ordered, p)
	}
	return s, nil
}

// Get returns the provider registered under name.
func (s *ProviderSet) Get(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Names returns provider names in declaration order.
func (s *ProviderSet) Names() []string {
	names := make([]string, len(s.ordered))
	for i, p := range s.ordered {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of providers.
func (s *ProviderSet) Len() int { return len(s.ordered) }
