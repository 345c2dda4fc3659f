package console

import "fmt"

// UnknownVariantError reports a console identity that is not registered
// at all. It is distinct from UnsupportedCapabilityError: callers must be
// able to tell "this console can never do X" from "this console identity
// is not registered".
type UnknownVariantError struct {
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown console variant %q", e.Variant)
}

// UnsupportedCapabilityError reports a known variant that does not
// implement the requested capability.
type UnsupportedCapabilityError struct {
	Variant    string
	Capability Capability
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("variant %q does not support capability %q", e.Variant, e.Capability)
}

// UnsupportedGroupError reports a known variant without the requested
// semantic group.
type UnsupportedGroupError struct {
	Variant string
	Group   Group
}

func (e *UnsupportedGroupError) Error() string {
	return fmt.Sprintf("variant %q does not support group %q", e.Variant, e.Group)
}

// Registry resolves capabilities and semantic groups to concrete console
// paths, per variant. Read-only after construction.
type Registry struct {
	variants map[string]*Variant
}

// NewRegistry builds a registry from the given variant definitions.
// With no arguments it loads the builtin variants.
func NewRegistry(variants ...*Variant) *Registry {
	if len(variants) == 0 {
		variants = BuiltinVariants()
	}
	byName := make(map[string]*Variant, len(variants))
	for _, v := range variants {
		byName[v.Name] = v
	}
	return &Registry{variants: byName}
}

// Variant looks up a registered variant by name.
func (r *Registry) Variant(name string) (*Variant, error) {
	v, ok := r.variants[name]
	if !ok {
		return nil, &UnknownVariantError{Variant: name}
	}
	return v, nil
}

// CapabilitiesOf returns the capability names a variant supports.
func (r *Registry) CapabilitiesOf(variant string) ([]Capability, error) {
	v, err := r.Variant(variant)
	if err != nil {
		return nil, err
	}
	return v.Capabilities(), nil
}

// Resolve maps a per-channel capability to a concrete path on the given
// variant. For global capabilities (output level, output mute) the
// channel is ignored.
func (r *Registry) Resolve(variant string, capability Capability, channel int) (string, error) {
	v, err := r.Variant(variant)
	if err != nil {
		return "", err
	}
	template, ok := v.paths[capability]
	if !ok {
		return "", &UnsupportedCapabilityError{Variant: variant, Capability: capability}
	}
	return expand(template, channel), nil
}

// ResolveGroup maps a semantic group and a per-channel capability to the
// concrete paths of every channel in the group, in channel order.
func (r *Registry) ResolveGroup(variant string, group Group, capability Capability) ([]string, error) {
	v, err := r.Variant(variant)
	if err != nil {
		return nil, err
	}
	channels, ok := v.GroupChannels(group)
	if !ok {
		return nil, &UnsupportedGroupError{Variant: variant, Group: group}
	}
	template, ok := v.paths[capability]
	if !ok {
		return nil, &UnsupportedCapabilityError{Variant: variant, Capability: capability}
	}

	paths := make([]string, 0, len(channels))
	for _, ch := range channels {
		paths = append(paths, expand(template, ch))
	}
	return paths, nil
}
