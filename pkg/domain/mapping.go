package domain

import (
	"fmt"
	"sort"
)

// Cardinality describes how many objects a relation end-point refers to.
type Cardinality int

const (
	// CardinalityOne end-points refer to zero or one object.
	CardinalityOne Cardinality = iota
	// CardinalityMany end-points refer to an ordered collection of objects.
	CardinalityMany
)

func (c Cardinality) String() string {
	if c == CardinalityMany {
		return "many"
	}
	return "one"
}

// ClassDefinition describes a mapped class and its plain value properties.
type ClassDefinition struct {
	ID         string
	Properties []string

	endPoints []*RelationEndPointDefinition
}

// EndPoints returns the non-anonymous relation end-points declared on the class.
func (c *ClassDefinition) EndPoints() []*RelationEndPointDefinition {
	return append([]*RelationEndPointDefinition(nil), c.endPoints...)
}

// RelationEndPointDefinition describes one side of a relation. The real side
// holds the foreign key; the virtual side is computed from the real ones. An
// end-point without a property name is anonymous and cannot be addressed.
type RelationEndPointDefinition struct {
	ClassID      string
	PropertyName string
	Cardinality  Cardinality
	Virtual      bool
	Mandatory    bool

	relation *RelationDefinition
}

// ID returns the identifier used to look the definition up again.
func (d *RelationEndPointDefinition) ID() string {
	if d.IsAnonymous() {
		return d.ClassID + ".<anonymous:" + d.relation.ID + ">"
	}
	return d.ClassID + "." + d.PropertyName
}

// IsAnonymous reports whether the end-point is the hidden side of a
// unidirectional relation.
func (d *RelationEndPointDefinition) IsAnonymous() bool {
	return d.PropertyName == ""
}

// IsVirtual reports whether the end-point is computed rather than stored.
// Anonymous end-points are always virtual.
func (d *RelationEndPointDefinition) IsVirtual() bool {
	return d.Virtual || d.IsAnonymous()
}

// Relation returns the relation the end-point belongs to.
func (d *RelationEndPointDefinition) Relation() *RelationDefinition {
	return d.relation
}

// Opposite returns the definition on the other side of the relation.
func (d *RelationEndPointDefinition) Opposite() *RelationEndPointDefinition {
	if d.relation.endPoints[0] == d {
		return d.relation.endPoints[1]
	}
	return d.relation.endPoints[0]
}

func (d *RelationEndPointDefinition) String() string { return d.ID() }

// RelationDefinition links two end-point definitions.
type RelationDefinition struct {
	ID        string
	endPoints [2]*RelationEndPointDefinition
}

// EndPoints returns both end-point definitions of the relation.
func (r *RelationDefinition) EndPoints() [2]*RelationEndPointDefinition {
	return r.endPoints
}

// IsUnidirectional reports whether one of the sides is anonymous.
func (r *RelationDefinition) IsUnidirectional() bool {
	return r.endPoints[0].IsAnonymous() || r.endPoints[1].IsAnonymous()
}

// MetadataProvider resolves mapping metadata for the relation engine.
type MetadataProvider interface {
	Class(id string) (*ClassDefinition, bool)
	EndPointDefinition(id string) (*RelationEndPointDefinition, bool)
	EndPointDefinitions(classID string) []*RelationEndPointDefinition
}

// EndPointSpec declares one side of a relation for MappingConfiguration.AddRelation.
type EndPointSpec struct {
	ClassID     string
	Property    string
	Cardinality Cardinality
	Virtual     bool
	Mandatory   bool
}

// RelationSpec declares a relation for MappingConfiguration.AddRelation.
type RelationSpec struct {
	ID        string
	EndPoints [2]EndPointSpec
}

// MappingConfiguration is an in-memory MetadataProvider.
type MappingConfiguration struct {
	classes   map[string]*ClassDefinition
	endPoints map[string]*RelationEndPointDefinition
	relations map[string]*RelationDefinition
}

var _ MetadataProvider = (*MappingConfiguration)(nil)

// NewMappingConfiguration returns an empty mapping.
func NewMappingConfiguration() *MappingConfiguration {
	return &MappingConfiguration{
		classes:   make(map[string]*ClassDefinition),
		endPoints: make(map[string]*RelationEndPointDefinition),
		relations: make(map[string]*RelationDefinition),
	}
}

// AddClass registers a class with its plain value properties.
func (m *MappingConfiguration) AddClass(id string, properties ...string) (*ClassDefinition, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: class id required", ErrInvalidArgument)
	}
	if _, exists := m.classes[id]; exists {
		return nil, fmt.Errorf("%w: class %q already defined", ErrInvalidOperation, id)
	}
	class := &ClassDefinition{ID: id, Properties: append([]string(nil), properties...)}
	m.classes[id] = class
	return class, nil
}

// AddRelation registers a relation. Exactly one side must be a real
// cardinality-one end-point; the other side is virtual or anonymous.
func (m *MappingConfiguration) AddRelation(spec RelationSpec) (*RelationDefinition, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: relation id required", ErrInvalidArgument)
	}
	if _, exists := m.relations[spec.ID]; exists {
		return nil, fmt.Errorf("%w: relation %q already defined", ErrInvalidOperation, spec.ID)
	}
	rel := &RelationDefinition{ID: spec.ID}
	reals := 0
	for i, ep := range spec.EndPoints {
		class, ok := m.classes[ep.ClassID]
		if !ok {
			return nil, fmt.Errorf("%w: relation %q references unknown class %q", ErrInvalidArgument, spec.ID, ep.ClassID)
		}
		def := &RelationEndPointDefinition{
			ClassID:      ep.ClassID,
			PropertyName: ep.Property,
			Cardinality:  ep.Cardinality,
			Virtual:      ep.Virtual,
			Mandatory:    ep.Mandatory,
			relation:     rel,
		}
		if !def.IsVirtual() {
			reals++
			if def.Cardinality != CardinalityOne {
				return nil, fmt.Errorf("%w: real end-point %s must have cardinality one", ErrInvalidArgument, def.ID())
			}
		}
		if def.IsAnonymous() && def.Mandatory {
			return nil, fmt.Errorf("%w: anonymous end-point of %q cannot be mandatory", ErrInvalidArgument, spec.ID)
		}
		if !def.IsAnonymous() {
			if _, exists := m.endPoints[def.ID()]; exists {
				return nil, fmt.Errorf("%w: property %s already mapped", ErrInvalidOperation, def.ID())
			}
			for _, p := range class.Properties {
				if p == def.PropertyName {
					return nil, fmt.Errorf("%w: property %s already mapped as value property", ErrInvalidOperation, def.ID())
				}
			}
		}
		rel.endPoints[i] = def
	}
	if reals != 1 {
		return nil, fmt.Errorf("%w: relation %q must have exactly one real end-point, got %d", ErrInvalidArgument, spec.ID, reals)
	}
	if rel.endPoints[0].IsAnonymous() && rel.endPoints[1].IsAnonymous() {
		return nil, fmt.Errorf("%w: relation %q has no named end-point", ErrInvalidArgument, spec.ID)
	}
	for _, def := range rel.endPoints {
		m.endPoints[def.ID()] = def
		if !def.IsAnonymous() {
			class := m.classes[def.ClassID]
			class.endPoints = append(class.endPoints, def)
		}
	}
	m.relations[spec.ID] = rel
	return rel, nil
}

// AddOneToMany declares a bidirectional relation where childClass.foreignKey
// holds the key and parentClass.collection lists the children.
func (m *MappingConfiguration) AddOneToMany(id, parentClass, collection, childClass, foreignKey string, mandatory bool) (*RelationDefinition, error) {
	return m.AddRelation(RelationSpec{ID: id, EndPoints: [2]EndPointSpec{
		{ClassID: childClass, Property: foreignKey, Cardinality: CardinalityOne, Mandatory: mandatory},
		{ClassID: parentClass, Property: collection, Cardinality: CardinalityMany, Virtual: true},
	}})
}

// AddOneToOne declares a bidirectional one-to-one relation where
// realClass.foreignKey holds the key and virtualClass.property mirrors it.
func (m *MappingConfiguration) AddOneToOne(id, virtualClass, property, realClass, foreignKey string) (*RelationDefinition, error) {
	return m.AddRelation(RelationSpec{ID: id, EndPoints: [2]EndPointSpec{
		{ClassID: realClass, Property: foreignKey, Cardinality: CardinalityOne},
		{ClassID: virtualClass, Property: property, Cardinality: CardinalityOne, Virtual: true},
	}})
}

// AddUnidirectional declares a relation navigable only from realClass.
func (m *MappingConfiguration) AddUnidirectional(id, realClass, foreignKey, targetClass string) (*RelationDefinition, error) {
	return m.AddRelation(RelationSpec{ID: id, EndPoints: [2]EndPointSpec{
		{ClassID: realClass, Property: foreignKey, Cardinality: CardinalityOne},
		{ClassID: targetClass, Cardinality: CardinalityMany, Virtual: true},
	}})
}

// Class implements MetadataProvider.
func (m *MappingConfiguration) Class(id string) (*ClassDefinition, bool) {
	c, ok := m.classes[id]
	return c, ok
}

// EndPointDefinition implements MetadataProvider.
func (m *MappingConfiguration) EndPointDefinition(id string) (*RelationEndPointDefinition, bool) {
	d, ok := m.endPoints[id]
	return d, ok
}

// EndPointDefinitions implements MetadataProvider.
func (m *MappingConfiguration) EndPointDefinitions(classID string) []*RelationEndPointDefinition {
	c, ok := m.classes[classID]
	if !ok {
		return nil
	}
	return c.EndPoints()
}

// Relation returns the relation registered under id.
func (m *MappingConfiguration) Relation(id string) (*RelationDefinition, bool) {
	r, ok := m.relations[id]
	return r, ok
}

// ClassIDs lists the registered classes in sorted order.
func (m *MappingConfiguration) ClassIDs() []string {
	ids := make([]string, 0, len(m.classes))
	for id := range m.classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
