package domain

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"
)

type mappingDocument struct {
	Classes []struct {
		ID         string   `yaml:"id"`
		Properties []string `yaml:"properties"`
	} `yaml:"classes"`
	Relations []struct {
		ID        string `yaml:"id"`
		EndPoints []struct {
			Class       string `yaml:"class"`
			Property    string `yaml:"property"`
			Cardinality string `yaml:"cardinality"`
			Virtual     bool   `yaml:"virtual"`
			Mandatory   bool   `yaml:"mandatory"`
		} `yaml:"endpoints"`
	} `yaml:"relations"`
}

// LoadMappingYAML builds a MappingConfiguration from a YAML document:
//
//	classes:
//	  - id: Order
//	    properties: [Number]
//	relations:
//	  - id: OrderItems
//	    endpoints:
//	      - {class: OrderItem, property: Order, cardinality: one, mandatory: true}
//	      - {class: Order, property: OrderItems, cardinality: many, virtual: true}
func LoadMappingYAML(r io.Reader) (*MappingConfiguration, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var doc mappingDocument
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	m := NewMappingConfiguration()
	for _, c := range doc.Classes {
		if _, err := m.AddClass(c.ID, c.Properties...); err != nil {
			return nil, err
		}
	}
	for _, r := range doc.Relations {
		if len(r.EndPoints) != 2 {
			return nil, fmt.Errorf("%w: relation %q needs exactly two endpoints", ErrInvalidArgument, r.ID)
		}
		spec := RelationSpec{ID: r.ID}
		for i, ep := range r.EndPoints {
			card, err := parseCardinality(ep.Cardinality)
			if err != nil {
				return nil, fmt.Errorf("relation %q: %w", r.ID, err)
			}
			spec.EndPoints[i] = EndPointSpec{
				ClassID:     ep.Class,
				Property:    ep.Property,
				Cardinality: card,
				Virtual:     ep.Virtual,
				Mandatory:   ep.Mandatory,
			}
		}
		if _, err := m.AddRelation(spec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one":
		return CardinalityOne, nil
	case "many":
		return CardinalityMany, nil
	default:
		return CardinalityOne, fmt.Errorf("%w: unknown cardinality %q", ErrInvalidArgument, s)
	}
}
