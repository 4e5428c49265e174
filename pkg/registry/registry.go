package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/trie"
	"github.com/cuemby/dnsrest/pkg/types"
	"github.com/rs/zerolog"
)

// Registry maps containers (by name or id) and static domains to domain
// names, and publishes those names into a domain tree while the owner is
// active. Every method holds the registry lock for its full duration.
type Registry struct {
	mu       sync.Mutex
	mappings map[string][]string        // key -> domain names
	active   map[string]types.Container // container id -> last snapshot
	domains  *trie.Node
	logger   zerolog.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		mappings: make(map[string][]string),
		active:   make(map[string]types.Container),
		domains:  trie.New(),
		logger:   log.WithComponent("registry"),
	}
}

// Add maps key to names, replacing any previous mapping. If a matching
// container is already active its names are published immediately.
func (r *Registry) Add(key string, names []string) {
	if key == "" {
		panic("registry: empty mapping key")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(key)

	stored := make([]string, len(names))
	copy(stored, names)
	r.mappings[key] = stored

	for _, c := range r.active {
		if key == types.NameKey(c.Name) || key == types.IDKey(c.ID) {
			r.logger.Info().
				Str("key", key).
				Str("container", c.String()).
				Msg("mapping added for active container")
			r.publish(stored, c.Addr, key)
		}
	}
}

// Get returns the names mapped to key, or an empty slice
func (r *Registry) Get(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.mappings[key]
	res := make([]string, 0, len(names))
	for _, name := range names {
		res = append(res, normalize(name))
	}
	return res
}

// Remove retracts the names published for key and forgets the mapping
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(key)
}

// Activate records c as active and publishes its mapped names, if any
func (r *Registry) Activate(c types.Container) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A repeated start replaces the previous snapshot instead of stacking
	// a second copy of its entries
	if prev, ok := r.active[c.ID]; ok {
		r.retractContainer(prev)
	}
	r.active[c.ID] = c

	key, names, ok := r.mappingFor(c)
	if !ok {
		r.logger.Debug().
			Str("container", c.String()).
			Msg("container active without a mapping")
		return
	}

	r.logger.Info().
		Str("container", c.String()).
		Str("key", key).
		Msg("setting container as active")
	r.publish(names, c.Addr, key)
}

// Deactivate retracts the names of a previously activated container. It is a
// no-op for containers that are not active.
func (r *Registry) Deactivate(c types.Container) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.active[c.ID]
	if !ok {
		return
	}
	delete(r.active, c.ID)

	r.logger.Info().
		Str("container", prev.String()).
		Msg("setting container as inactive")
	r.retractContainer(prev)
}

// ActivateStatic publishes domain at addr on behalf of an operator. Adding
// the same address twice is a no-op.
func (r *Registry) ActivateStatic(domain, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.publish([]string{domain}, addr, types.DomainKey(normalize(domain)))
}

// DeactivateStatic retracts every address published for domain by an operator
func (r *Registry) DeactivateStatic(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retract([]string{domain}, types.DomainKey(normalize(domain)))
}

// StaticAddrs returns the operator-entered addresses for domain
func (r *Registry) StaticAddrs(domain string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := types.DomainKey(normalize(domain))
	var res []string
	for _, e := range r.domains.Peek(domain) {
		if e.Tag == tag {
			res = append(res, e.Addr)
		}
	}
	sort.Strings(res)
	return res
}

// Resolve returns the addresses for name, or nil when nothing matches
func (r *Registry) Resolve(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.domains.Get(name)
	if len(entries) == 0 {
		r.logger.Debug().Str("name", name).Msg("no mapping")
		return nil
	}

	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, e.Addr)
	}

	r.logger.Debug().
		Str("name", name).
		Strs("addrs", addrs).
		Msg("resolved")
	return addrs
}

// Dump serializes the domain tree as indented JSON
func (r *Registry) Dump() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(r.domains.ToDict(), "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode domain tree: %w", err)
	}
	return data, nil
}

// Mappings returns a copy of every mapping
func (r *Registry) Mappings() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[string][]string, len(r.mappings))
	for key, names := range r.mappings {
		res[key] = append([]string(nil), names...)
	}
	return res
}

// Active returns the active containers ordered by id
func (r *Registry) Active() []types.Container {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]types.Container, 0, len(r.active))
	for _, c := range r.active {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Stats returns the number of mappings, active containers and tree entries
func (r *Registry) Stats() (mappings, active, entries int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.mappings), len(r.active), r.domains.Len()
}

func (r *Registry) removeLocked(key string) {
	names, ok := r.mappings[key]
	if !ok {
		return
	}
	r.retract(names, key)
	delete(r.mappings, key)
}

// mappingFor looks up a container's mapping by name first, then by id
func (r *Registry) mappingFor(c types.Container) (string, []string, bool) {
	if names, ok := r.mappings[types.NameKey(c.Name)]; ok {
		return types.NameKey(c.Name), names, true
	}
	if names, ok := r.mappings[types.IDKey(c.ID)]; ok {
		return types.IDKey(c.ID), names, true
	}
	return "", nil, false
}

// retractContainer drops the names published for c under its name key and
// its id key. Add may have published under either one while c was active.
func (r *Registry) retractContainer(c types.Container) {
	keys := []string{types.IDKey(c.ID)}
	if c.Name != "" {
		keys = append(keys, types.NameKey(c.Name))
	}
	for _, key := range keys {
		if names, ok := r.mappings[key]; ok {
			r.retract(names, key)
		}
	}
}

func (r *Registry) publish(names []string, addr, tag string) {
	if addr == "" {
		r.logger.Warn().
			Str("key", tag).
			Msg("no address to publish")
		return
	}

	for _, name := range names {
		if err := r.domains.Put(name, addr, tag); err != nil {
			r.logger.Warn().
				Err(err).
				Str("name", name).
				Str("key", tag).
				Msg("skipping invalid name")
			continue
		}
		r.logger.Info().
			Str("name", normalize(name)).
			Str("addr", addr).
			Str("key", tag).
			Msg("added")
	}
}

func (r *Registry) retract(names []string, tag string) {
	for _, name := range names {
		for _, addr := range r.domains.Remove(name, tag) {
			r.logger.Info().
				Str("name", normalize(name)).
				Str("addr", addr).
				Str("key", tag).
				Msg("removed")
		}
	}
}

func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
