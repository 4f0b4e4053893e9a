package aliasing

// Resolver resolves producer and dataset names through the configured alias
// maps. Thread-safe for concurrent use (immutable after construction).
//
// Resolution is a single exact-match lookup; unknown names pass through
// unchanged so callers can apply it unconditionally. Aliases are
// case-sensitive: registered names are exact natural keys.
type Resolver struct {
	producers map[string]string
	datasets  map[string]string
}

// NewResolver creates a resolver from config. If config is nil or has no
// aliases, returns a no-op resolver (passthrough).
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{
		producers: make(map[string]string),
		datasets:  make(map[string]string),
	}

	if cfg == nil {
		return r
	}

	for alias, canonical := range cfg.ProducerAliases {
		if alias != "" && canonical != "" {
			r.producers[alias] = canonical
		}
	}

	for alias, canonical := range cfg.DatasetAliases {
		if alias != "" && canonical != "" {
			r.datasets[alias] = canonical
		}
	}

	return r
}

// AliasCount returns the total number of configured aliases.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.producers) + len(r.datasets)
}

// ResolveProducer returns the canonical producer name for an alias, or the
// input unchanged when no alias is configured.
func (r *Resolver) ResolveProducer(name string) string {
	if r == nil || name == "" {
		return name
	}

	if canonical, ok := r.producers[name]; ok {
		return canonical
	}

	return name
}

// ResolveDataset returns the canonical dataset name for an alias, or the
// input unchanged when no alias is configured.
func (r *Resolver) ResolveDataset(name string) string {
	if r == nil || name == "" {
		return name
	}

	if canonical, ok := r.datasets[name]; ok {
		return canonical
	}

	return name
}
