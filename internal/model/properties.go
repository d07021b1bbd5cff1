// Package model defines the persistent data model: viztrails,
// branches, workflows, and modules, plus the Properties annotation type
// shared by viztrails and branches.
package model

// PropertyName is the one well-known property key used for display.
const PropertyName = "name"

// Property is a single key/value annotation. Value is either a scalar
// (string, float64, bool) or a list of scalars, matching the "arbitrary
// key/value annotations with scalar or scalar-list values" contract.
type Property struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Properties is an ordered set of annotations. Order is preserved across
// Set/Delete so JSON round-trips are stable, which a plain map cannot
// guarantee.
type Properties []Property

// Get returns the value for key and whether it was present.
func (p Properties) Get(key string) (any, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return nil, false
}

// Name returns the well-known display name, or "" if unset.
func (p Properties) Name() string {
	v, ok := p.Get(PropertyName)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set upserts key, preserving its position if it already existed or
// appending it at the end otherwise. Returns the updated Properties.
func (p Properties) Set(key string, value any) Properties {
	for i, prop := range p {
		if prop.Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Property{Key: key, Value: value})
}

// Delete removes key if present. Returns the updated Properties.
func (p Properties) Delete(key string) Properties {
	for i, prop := range p {
		if prop.Key == key {
			return append(p[:i], p[i+1:]...)
		}
	}
	return p
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	copy(out, p)
	return out
}
