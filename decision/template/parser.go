package template

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	topoerrors "github.com/gacybercenter/openstack-top-graph/pkg/errors"
)

const maxAliasDepth = 64

// Parser decodes Heat template text (YAML or JSON) into a Document.
type Parser struct{}

// NewParser creates a new template parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile parses a template file
func (p *Parser) ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	return p.parse(path, data)
}

// Parse parses a template from a reader
func (p *Parser) Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return p.parse("", data)
}

// ParseBytes parses a template from bytes
func (p *Parser) ParseBytes(data []byte) (*Document, error) {
	return p.parse("", data)
}

func (p *Parser) parse(source string, data []byte) (*Document, error) {
	root, err := ParseValue(data)
	if err != nil {
		return nil, topoerrors.NewParseError(source, err)
	}
	doc, err := FromValue(root)
	if err != nil {
		return nil, topoerrors.NewParseError(source, err)
	}
	return doc, nil
}

// ParseValue decodes YAML or JSON text into a Value tree. Only the first
// document of a multi-document stream is read.
func ParseValue(data []byte) (*Value, error) {
	var node yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&node); err != nil {
		if err == io.EOF {
			return Null(), nil
		}
		return nil, err
	}
	c := &converter{budget: valueBudget(countNodes(&node))}
	return c.node(&node, 0)
}

// Aliases expand into copies, so the number of values produced is bounded
// relative to the size of the source tree.
const (
	aliasExpansion = 10
	minValueBudget = 100_000
	maxValueBudget = 4_000_000
)

func valueBudget(nodes int) int {
	budget := nodes*aliasExpansion + minValueBudget
	if budget > maxValueBudget {
		budget = maxValueBudget
	}
	if budget < nodes {
		budget = nodes
	}
	return budget
}

// countNodes counts the nodes of the source tree without following aliases.
func countNodes(n *yaml.Node) int {
	total := 1
	for _, c := range n.Content {
		total += countNodes(c)
	}
	return total
}

type converter struct {
	produced int
	budget   int
}

func (c *converter) spend(n, line int) error {
	c.produced += n
	if c.produced > c.budget {
		return fmt.Errorf("line %d: aliases expand to more than %d values", line, c.budget)
	}
	return nil
}

func (c *converter) node(n *yaml.Node, depth int) (*Value, error) {
	switch n.Kind {
	case 0:
		return Null(), nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return c.node(n.Content[0], depth)
	case yaml.AliasNode:
		if depth >= maxAliasDepth {
			return nil, fmt.Errorf("line %d: alias nesting too deep", n.Line)
		}
		return c.node(n.Alias, depth+1)
	}

	if err := c.spend(1, n.Line); err != nil {
		return nil, err
	}
	switch n.Kind {
	case yaml.SequenceNode:
		items := make([]*Value, 0, len(n.Content))
		for _, child := range n.Content {
			item, err := c.node(child, depth)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.MappingNode:
		return c.mapping(n, depth)
	case yaml.ScalarNode:
		return convertScalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func (c *converter) mapping(n *yaml.Node, depth int) (*Value, error) {
	m := NewMap()
	var merges []*Value
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		val, err := c.node(valNode, depth)
		if err != nil {
			return nil, err
		}
		if keyNode.ShortTag() == "!!merge" {
			merges = append(merges, val)
			continue
		}
		key, err := c.node(keyNode, depth)
		if err != nil {
			return nil, err
		}
		m.Set(key.Scalar(), val)
	}
	// merge keys never override explicit entries
	for _, src := range merges {
		sources := []*Value{src}
		if src.IsList() {
			sources = src.Items()
		}
		for _, s := range sources {
			for _, k := range s.Keys() {
				if m.Has(k) {
					continue
				}
				child, _ := s.Get(k)
				if err := c.spend(size(child), n.Line); err != nil {
					return nil, err
				}
				m.Set(k, child.Clone())
			}
		}
	}
	return m, nil
}

func size(v *Value) int {
	n := 0
	v.Walk(func(*Value) bool {
		n++
		return true
	})
	return n
}

func convertScalar(n *yaml.Node) (*Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return String(n.Value), nil
		}
		return Number(f), nil
	default:
		return String(n.Value), nil
	}
}

// FromValue builds a Document from an already parsed tree.
func FromValue(root *Value) (*Document, error) {
	doc := &Document{Parameters: NewParameters()}
	if root.IsNull() {
		return doc, nil
	}
	if !root.IsMap() {
		return nil, fmt.Errorf("template root must be a mapping, got %s", root.Kind())
	}

	if v, ok := root.Get("heat_template_version"); ok {
		doc.Version = v.Scalar()
	}
	if v, ok := root.Get("description"); ok {
		doc.Description = v.Scalar()
	}
	if v, ok := root.Get("parameters"); ok && v.IsMap() {
		for _, name := range v.Keys() {
			def, _ := v.Get(name)
			doc.Parameters.Set(parseParameter(name, def))
		}
	}
	if v, ok := root.Get("parameter_defaults"); ok && v.IsMap() {
		doc.ParameterDefaults = v
	}

	resources, ok := root.Get("resources")
	if !ok {
		return doc, nil
	}
	switch resources.Kind() {
	case KindNull:
		doc.Resources = []*Resource{}
	case KindMap:
		doc.Resources = make([]*Resource, 0, resources.Len())
		for _, name := range resources.Keys() {
			def, _ := resources.Get(name)
			doc.Resources = append(doc.Resources, parseResource(name, def))
		}
	default:
		return nil, fmt.Errorf("resources must be a mapping, got %s", resources.Kind())
	}
	return doc, nil
}

func parseParameter(name string, def *Value) *Parameter {
	param := &Parameter{Name: name}
	if !def.IsMap() {
		// environment files give bare values
		if !def.IsNull() {
			param.Default = def
			param.HasDefault = true
		}
		return param
	}
	if t, ok := def.Get("type"); ok {
		param.Type = t.Scalar()
	}
	if d, ok := def.Get("description"); ok {
		param.Description = d.Scalar()
	}
	if d, ok := def.Get("default"); ok {
		param.Default = d
		param.HasDefault = true
	}
	return param
}

func parseResource(name string, def *Value) *Resource {
	res := &Resource{Name: name, Properties: NewMap(), Metadata: NewMap()}
	if !def.IsMap() {
		return res
	}
	if t, ok := def.Get("type"); ok {
		res.Type = t.Scalar()
	}
	if p, ok := def.Get("properties"); ok && !p.IsNull() {
		res.Properties = p
	}
	if m, ok := def.Get("metadata"); ok && !m.IsNull() {
		res.Metadata = m
	}
	if d, ok := def.Get("depends_on"); ok {
		if d.IsList() {
			for _, item := range d.Items() {
				res.DependsOn = append(res.DependsOn, item.Scalar())
			}
		} else if !d.IsNull() {
			res.DependsOn = []string{d.Scalar()}
		}
	}
	return res
}
