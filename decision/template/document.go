package template

import "strings"

// Parameter is one entry of a template's parameters section.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Default     *Value
	HasDefault  bool
}

// Parameters is an ordered parameter collection.
type Parameters struct {
	order  []string
	byName map[string]*Parameter
}

// NewParameters creates an empty collection.
func NewParameters() *Parameters {
	return &Parameters{byName: make(map[string]*Parameter)}
}

// Get looks up a parameter by name.
func (p *Parameters) Get(name string) (*Parameter, bool) {
	if p == nil {
		return nil, false
	}
	param, ok := p.byName[name]
	return param, ok
}

// Set adds or replaces a parameter. Replacing keeps the original position.
func (p *Parameters) Set(param *Parameter) {
	if _, exists := p.byName[param.Name]; !exists {
		p.order = append(p.order, param.Name)
	}
	p.byName[param.Name] = param
}

// Names returns parameter names in declaration order.
func (p *Parameters) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// Clone deep-copies the collection.
func (p *Parameters) Clone() *Parameters {
	out := NewParameters()
	if p == nil {
		return out
	}
	for _, name := range p.order {
		src := p.byName[name]
		cp := *src
		cp.Default = src.Default.Clone()
		out.Set(&cp)
	}
	return out
}

// Resource is one entry of the resources section.
type Resource struct {
	Name       string
	Type       string
	Properties *Value
	Metadata   *Value
	DependsOn  []string
}

// Kind returns the third "::" segment of the resource type, or the whole type
// when it has fewer segments.
func (r *Resource) Kind() string {
	return KindOf(r.Type)
}

// KindOf derives the short kind from a namespaced type such as OS::Nova::Server.
func KindOf(resourceType string) string {
	parts := strings.Split(resourceType, "::")
	if len(parts) < 3 {
		return resourceType
	}
	return parts[2]
}

// Document is a parsed Heat template.
type Document struct {
	Version           string
	Description       string
	Parameters        *Parameters
	ParameterDefaults *Value

	// Resources is nil when the template had no resources key.
	Resources []*Resource
}

// Resource looks up a resource by name.
func (d *Document) Resource(name string) (*Resource, bool) {
	for _, r := range d.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}
