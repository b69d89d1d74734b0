package domain_test

import (
	"errors"
	"strings"
	"testing"

	"relcore/pkg/domain"
)

func orderMapping(t *testing.T) *domain.MappingConfiguration {
	t.Helper()
	m := domain.NewMappingConfiguration()
	for _, id := range []string{"Customer", "Order", "Location"} {
		if _, err := m.AddClass(id, "Name"); err != nil {
			t.Fatalf("add class %s: %v", id, err)
		}
	}
	if _, err := m.AddOneToMany("Customer_Orders", "Customer", "Orders", "Order", "Customer", true); err != nil {
		t.Fatalf("one to many: %v", err)
	}
	if _, err := m.AddUnidirectional("Location_Client", "Location", "Client", "Customer"); err != nil {
		t.Fatalf("unidirectional: %v", err)
	}
	return m
}

func TestMapping_EndPointDefinitions(t *testing.T) {
	m := orderMapping(t)
	real, ok := m.EndPointDefinition("Order.Customer")
	if !ok {
		t.Fatal("expected Order.Customer")
	}
	if real.IsVirtual() || !real.Mandatory || real.Cardinality != domain.CardinalityOne {
		t.Fatalf("unexpected real definition %+v", real)
	}
	virtual := real.Opposite()
	if virtual.ID() != "Customer.Orders" || !virtual.IsVirtual() || virtual.Cardinality != domain.CardinalityMany {
		t.Fatalf("unexpected opposite %s", virtual.ID())
	}
	if virtual.Opposite() != real || real.Relation() != virtual.Relation() {
		t.Fatal("expected both sides to share one relation")
	}
	if real.Relation().IsUnidirectional() {
		t.Fatal("Customer_Orders is bidirectional")
	}

	client, _ := m.EndPointDefinition("Location.Client")
	anon := client.Opposite()
	if !anon.IsAnonymous() || !anon.IsVirtual() {
		t.Fatalf("expected anonymous opposite, got %s", anon.ID())
	}
	if got := anon.ID(); got != "Customer.<anonymous:Location_Client>" {
		t.Fatalf("unexpected anonymous id %q", got)
	}
	if _, ok := m.EndPointDefinition(anon.ID()); !ok {
		t.Fatal("anonymous definitions are still registered by id")
	}
	for _, def := range m.EndPointDefinitions("Customer") {
		if def.IsAnonymous() {
			t.Fatalf("class end-points must not list anonymous %s", def.ID())
		}
	}
	if got := m.ClassIDs(); strings.Join(got, ",") != "Customer,Location,Order" {
		t.Fatalf("unexpected class ids %v", got)
	}
	if m.EndPointDefinitions("Planet") != nil {
		t.Fatal("unknown classes have no end-points")
	}
}

func TestMapping_RejectsInvalidDefinitions(t *testing.T) {
	m := orderMapping(t)
	if _, err := m.AddClass("Order"); !errors.Is(err, domain.ErrInvalidOperation) {
		t.Fatalf("duplicate class: %v", err)
	}
	if _, err := m.AddClass(""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty class: %v", err)
	}
	cases := []struct {
		name string
		spec domain.RelationSpec
		want error
	}{
		{"missing id", domain.RelationSpec{}, domain.ErrInvalidArgument},
		{"duplicate id", domain.RelationSpec{ID: "Customer_Orders"}, domain.ErrInvalidOperation},
		{"unknown class", domain.RelationSpec{ID: "r1", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Planet", Property: "Star"}, {ClassID: "Order", Property: "Planets", Virtual: true, Cardinality: domain.CardinalityMany},
		}}, domain.ErrInvalidArgument},
		{"two real sides", domain.RelationSpec{ID: "r2", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Order", Property: "Partner"}, {ClassID: "Customer", Property: "Partner"},
		}}, domain.ErrInvalidArgument},
		{"real collection", domain.RelationSpec{ID: "r3", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Order", Property: "Tags", Cardinality: domain.CardinalityMany}, {ClassID: "Customer", Property: "Tagged", Virtual: true},
		}}, domain.ErrInvalidArgument},
		{"property already mapped", domain.RelationSpec{ID: "r4", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Order", Property: "Customer"}, {ClassID: "Customer", Property: "Other", Virtual: true},
		}}, domain.ErrInvalidOperation},
		{"value property clash", domain.RelationSpec{ID: "r5", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Order", Property: "Name"}, {ClassID: "Customer", Property: "Named", Virtual: true},
		}}, domain.ErrInvalidOperation},
		{"mandatory anonymous", domain.RelationSpec{ID: "r6", EndPoints: [2]domain.EndPointSpec{
			{ClassID: "Order", Property: "Owner"}, {ClassID: "Customer", Virtual: true, Mandatory: true},
		}}, domain.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.AddRelation(tc.spec); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

const mappingYAML = `
classes:
  - id: Order
    properties: [Number]
  - id: OrderItem
    properties: [Product]
relations:
  - id: OrderItems
    endpoints:
      - {class: OrderItem, property: Order, cardinality: one, mandatory: true}
      - {class: Order, property: OrderItems, cardinality: many, virtual: true}
`

func TestLoadMappingYAML(t *testing.T) {
	m, err := domain.LoadMappingYAML(strings.NewReader(mappingYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, ok := m.EndPointDefinition("Order.OrderItems")
	if !ok || def.Cardinality != domain.CardinalityMany || !def.IsVirtual() {
		t.Fatalf("unexpected definition %+v", def)
	}
	if !def.Opposite().Mandatory {
		t.Fatal("expected mandatory foreign key")
	}
	class, _ := m.Class("OrderItem")
	if len(class.Properties) != 1 || class.Properties[0] != "Product" {
		t.Fatalf("unexpected properties %v", class.Properties)
	}
}

func TestLoadMappingYAML_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "classes:\n  - id: Order\n    colour: red\n",
		"bad cardinality": "classes:\n  - id: A\nrelations:\n  - id: r\n    endpoints:\n      - {class: A, property: B, cardinality: few}\n      - {class: A, property: C, virtual: true}\n",
		"single endpoint": "classes:\n  - id: A\nrelations:\n  - id: r\n    endpoints:\n      - {class: A, property: B}\n",
		"duplicate class": "classes:\n  - id: A\n  - id: A\n",
		"malformed yaml":  "classes: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := domain.LoadMappingYAML(strings.NewReader(doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
