package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	"fourcat/internal/config"
	"fourcat/internal/services"
)

var validate = validator.New()

type entry struct {
	descriptor Descriptor
	processor  Processor
}

// Registry maps processor type ids to their descriptors and implementations.
type Registry struct {
	entries map[string]entry
	types   []string
}

// New validates the processors' descriptors and builds a registry. Every
// failure wraps services.ErrConfiguration.
func New(processors ...Processor) (*Registry, error) {
	reg := &Registry{entries: make(map[string]entry, len(processors))}
	for _, proc := range processors {
		if proc == nil {
			return nil, configError("nil processor")
		}
		desc := proc.Descriptor()
		if err := validateDescriptor(desc); err != nil {
			return nil, err
		}
		if _, exists := reg.entries[desc.TypeID]; exists {
			return nil, configError(fmt.Sprintf("duplicate processor type %q", desc.TypeID))
		}
		if desc.Concurrency == 0 {
			desc.Concurrency = 1
		}
		desc.Accepts = append([]string(nil), desc.Accepts...)
		reg.entries[desc.TypeID] = entry{descriptor: desc, processor: proc}
		reg.types = append(reg.types, desc.TypeID)
	}
	sort.Strings(reg.types)

	if err := reg.checkAcyclic(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Build creates a registry and applies the per-type overrides from cfg.
func Build(cfg *config.Config, processors ...Processor) (*Registry, error) {
	reg, err := New(processors...)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return reg, nil
	}
	for typeID, override := range cfg.Processors {
		current, ok := reg.entries[typeID]
		if !ok {
			return nil, configError(fmt.Sprintf("override for unknown processor %q", typeID))
		}
		if override.Concurrency > 0 {
			current.descriptor.Concurrency = override.Concurrency
		}
		if override.Timeout > 0 {
			current.descriptor.Timeout = time.Duration(override.Timeout) * time.Second
		}
		reg.entries[typeID] = current
	}
	return reg, nil
}

// Known reports whether typeID is registered.
func (r *Registry) Known(typeID string) bool {
	_, ok := r.entries[typeID]
	return ok
}

// Types returns every registered type id, sorted.
func (r *Registry) Types() []string {
	return append([]string(nil), r.types...)
}

// Descriptor returns the descriptor for typeID.
func (r *Registry) Descriptor(typeID string) (Descriptor, bool) {
	e, ok := r.entries[typeID]
	return e.descriptor, ok
}

// Processor returns the implementation for typeID.
func (r *Registry) Processor(typeID string) (Processor, error) {
	e, ok := r.entries[typeID]
	if !ok {
		return nil, configError(fmt.Sprintf("unknown processor type %q", typeID))
	}
	return e.processor, nil
}

// Descriptors returns every descriptor ordered by type id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.types))
	for _, typeID := range r.types {
		out = append(out, r.entries[typeID].descriptor)
	}
	return out
}

// ConsumersOf returns the descriptors that accept produced, ordered by type id.
func (r *Registry) ConsumersOf(produced string) []Descriptor {
	var out []Descriptor
	for _, typeID := range r.types {
		desc := r.entries[typeID].descriptor
		if desc.AcceptsType(produced) {
			out = append(out, desc)
		}
	}
	return out
}

func validateDescriptor(desc Descriptor) error {
	if !typeIDPattern.MatchString(desc.TypeID) {
		return configError(fmt.Sprintf("invalid processor type id %q (lowercase letters, digits and hyphens, starting with a letter)", desc.TypeID))
	}
	if err := validate.Struct(desc); err != nil {
		return services.Wrap(services.ErrConfiguration, "registry", desc.TypeID, "invalid descriptor", err)
	}
	if _, err := semver.StrictNewVersion(desc.Version); err != nil {
		return services.Wrap(services.ErrConfiguration, "registry", desc.TypeID, fmt.Sprintf("invalid version %q", desc.Version), err)
	}
	if desc.Timeout < 0 {
		return configError(fmt.Sprintf("processor %q: timeout must not be negative", desc.TypeID))
	}
	for _, accepted := range desc.Accepts {
		if accepted == desc.TypeID || accepted == desc.Produces {
			return configError(fmt.Sprintf("processor %q accepts its own output %q", desc.TypeID, accepted))
		}
	}
	names := make([]string, 0, len(desc.Options))
	for name := range desc.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validateOptionSpec(desc.TypeID, name, desc.Options[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateOptionSpec(typeID, name string, spec OptionSpec) error {
	if strings.TrimSpace(name) == "" {
		return configError(fmt.Sprintf("processor %q declares an unnamed option", typeID))
	}
	if err := validate.Struct(spec); err != nil {
		return services.Wrap(services.ErrConfiguration, "registry", typeID, fmt.Sprintf("option %q", name), err)
	}
	if spec.Kind == KindChoice && len(spec.Choices) == 0 {
		return configError(fmt.Sprintf("processor %q option %q: choice options need choices", typeID, name))
	}
	if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
		return configError(fmt.Sprintf("processor %q option %q: min exceeds max", typeID, name))
	}
	if spec.Default != nil {
		value, err := coerceOption(spec, spec.Default)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "registry", typeID, fmt.Sprintf("option %q default", name), err)
		}
		if (spec.Kind == KindInt || spec.Kind == KindFloat) && clampOption(spec, value) != value {
			return configError(fmt.Sprintf("processor %q option %q: default outside min/max", typeID, name))
		}
	}
	return nil
}

// checkAcyclic walks the fan-out graph (A -> B when B accepts A's produced
// type) depth first and fails on the first back edge.
func (r *Registry) checkAcyclic() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(r.types))

	var visit func(typeID string, path []string) error
	visit = func(typeID string, path []string) error {
		switch state[typeID] {
		case inProgress:
			return configError(fmt.Sprintf("fan-out cycle: %s", strings.Join(append(path, typeID), " -> ")))
		case done:
			return nil
		}
		state[typeID] = inProgress
		produced := r.entries[typeID].descriptor.Produces
		for _, consumer := range r.ConsumersOf(produced) {
			if err := visit(consumer.TypeID, append(path, typeID)); err != nil {
				return err
			}
		}
		state[typeID] = done
		return nil
	}

	for _, typeID := range r.types {
		if state[typeID] == unvisited {
			if err := visit(typeID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func configError(message string) error {
	return services.Wrap(services.ErrConfiguration, "registry", "", message, nil)
}
