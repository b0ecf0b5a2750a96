package protocols

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrProtocolExists  = errors.New("protocol already registered")
	ErrFactoryNil      = errors.New("protocol factory is nil")
	ErrInvalidMetadata = errors.New("invalid protocol metadata")
)

// Metadata identifies a driver and the manifest entries it needs.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Protocol    protocol.ProtocolID
	Class       protocol.BundleClass
}

// Env carries what a factory may need to build its driver.
type Env struct {
	Args     map[string]string
	Manifest []byte
	Logger   zerolog.Logger
}

// Factory builds a driver instance for one cport.
type Factory func(env Env) (greybus.Driver, error)

type entry struct {
	meta    Metadata
	factory Factory
}

// Registry stores driver factories by stable identifier.
type Registry struct {
	items map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]entry)}
}

// ValidateMetadata checks required metadata fields and id format.
func ValidateMetadata(meta Metadata) error {
	id := strings.TrimSpace(meta.ID)
	name := strings.TrimSpace(meta.Name)
	if id == "" || name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidMetadata)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	return nil
}

// Register adds a driver factory to the registry.
func (r *Registry) Register(meta Metadata, factory Factory) error {
	if factory == nil {
		return ErrFactoryNil
	}
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	if _, ok := r.items[meta.ID]; ok {
		return fmt.Errorf("%w: %s", ErrProtocolExists, meta.ID)
	}
	r.items[meta.ID] = entry{meta: meta, factory: factory}
	return nil
}

// Resolve returns the metadata of a registered driver.
func (r *Registry) Resolve(id string) (Metadata, bool) {
	e, ok := r.items[id]
	return e.meta, ok
}

// Build instantiates the driver registered under id.
func (r *Registry) Build(id string, env Env) (greybus.Driver, error) {
	e, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q", protocol.ErrNotFound, id)
	}
	drv, err := e.factory(env)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", id, err)
	}
	return drv, nil
}

// ListMetadata returns deterministic metadata ordering by id.
func (r *Registry) ListMetadata() []Metadata {
	list := make([]Metadata, 0, len(r.items))
	for _, e := range r.items {
		list = append(list, e.meta)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
