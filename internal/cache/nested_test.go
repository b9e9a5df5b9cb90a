package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitycache/internal/value"
)

type testAddress struct {
	Street string          `cache:"street"`
	Target Ref[testEntity] `cache:"testType"`
	Extra  value.Object    `cache:",extra"`
}

type testShipment struct {
	ID       int64         `cache:",identity"`
	Shipping *testAddress  `cache:"shipping"`
	Billing  testAddress   `cache:"billing"`
	Stops    []testAddress `cache:"stops"`
}

func newShipmentFixture(t *testing.T) (*Cache[testEntity], *Cache[testShipment]) {
	t.Helper()
	targets := newTestCache(t)
	shipments, err := New[testShipment]("shipment", WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, shipments.AddDependency(targets))
	return targets, shipments
}

func shipment(id int64, pairs ...value.Pair) value.Object {
	obj := value.Obj(pairs...)
	obj["shipmentId"] = value.Int(id)
	return obj
}

func targetID(r Ref[testEntity]) int64 {
	if e, ok := r.Get(); ok {
		return e.ID
	}
	return -1
}

func pending[T any](c *Cache[T]) int {
	n := 0
	for _, info := range c.Dependencies() {
		n += info.Pending
	}
	return n
}

func TestNestedStructKeyResolvesPresentTarget(t *testing.T) {
	targets, shipments := newShipmentFixture(t)
	require.NoError(t, targets.UpdateOrInsert(entity(5)))

	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(
			value.O("street", value.String("Main St")),
			value.O("testTypeId", value.Int(5)),
		)),
	)))

	s, _ := shipments.Get(1)
	require.NotNil(t, s.Shipping)
	assert.Equal(t, "Main St", s.Shipping.Street)
	assert.Equal(t, int64(5), targetID(s.Shipping.Target))
	assert.NotContains(t, s.Shipping.Extra, "testTypeId")

	key, ok := shipments.ForeignKeyAt(s, "shipping", "testTypeId")
	require.True(t, ok)
	assert.Equal(t, ForeignKey{IDs: []int64{5}}, key)
	_, ok = shipments.ForeignKey(s, "testTypeId")
	assert.False(t, ok)
	assert.Equal(t, []string{"shipping"}, shipments.KeyPaths(s, "testTypeId"))
}

func TestNestedStructKeyResolvesLater(t *testing.T) {
	targets, shipments := newShipmentFixture(t)

	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(value.O("testTypeId", value.Int(5)))),
		value.O("billing", value.Obj(value.O("testTypeId", value.Int(6)))),
	)))
	s, _ := shipments.Get(1)
	assert.False(t, s.Shipping.Target.Resolved())
	assert.False(t, s.Billing.Target.Resolved())
	assert.Equal(t, 2, pending(shipments))

	require.NoError(t, targets.UpdateOrInsert(entity(5), entity(6)))
	assert.Equal(t, int64(5), targetID(s.Shipping.Target))
	assert.Equal(t, int64(6), targetID(s.Billing.Target))
	assert.Zero(t, pending(shipments))
}

func TestNestedKeyChangeSkipsStalePatch(t *testing.T) {
	targets, shipments := newShipmentFixture(t)

	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(value.O("testTypeId", value.Int(5)))),
	)))
	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(value.O("testTypeId", value.Int(6)))),
	)))
	assert.Equal(t, 1, pending(shipments))

	require.NoError(t, targets.UpdateOrInsert(entity(5)))
	s, _ := shipments.Get(1)
	assert.False(t, s.Shipping.Target.Resolved())

	require.NoError(t, targets.UpdateOrInsert(entity(6)))
	assert.Equal(t, int64(6), targetID(s.Shipping.Target))
}

func TestNestedKeysAreTrackedPerPath(t *testing.T) {
	targets, shipments := newShipmentFixture(t)

	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(value.O("testTypeId", value.Int(5)))),
		value.O("billing", value.Obj(value.O("testTypeId", value.Int(5)))),
	)))
	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("billing", value.Obj(value.O("testTypeId", value.Int(7)))),
	)))
	assert.Equal(t, 2, pending(shipments))

	require.NoError(t, targets.UpdateOrInsert(entity(5)))
	s, _ := shipments.Get(1)
	assert.Equal(t, int64(5), targetID(s.Shipping.Target))
	assert.False(t, s.Billing.Target.Resolved())
	assert.Equal(t, []string{"billing", "shipping"}, shipments.KeyPaths(s, "testTypeId"))
}

func TestKeysInsideSliceElementsAreNotResolved(t *testing.T) {
	targets, shipments := newShipmentFixture(t)
	require.NoError(t, targets.UpdateOrInsert(entity(5)))

	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("stops", value.Array{value.Obj(value.O("testTypeId", value.Int(5)))}),
	)))

	s, _ := shipments.Get(1)
	require.Len(t, s.Stops, 1)
	assert.False(t, s.Stops[0].Target.Resolved())
	assert.Equal(t, value.Int(5), s.Stops[0].Extra["testTypeId"])
	assert.Zero(t, pending(shipments))
}

func TestRemovingOwnerDropsNestedWaitingEntries(t *testing.T) {
	_, shipments := newShipmentFixture(t)
	require.NoError(t, shipments.UpdateOrInsert(shipment(1,
		value.O("shipping", value.Obj(value.O("testTypeId", value.Int(5)))),
		value.O("billing", value.Obj(value.O("testTypeId", value.Int(6)))),
	)))
	require.Equal(t, 2, pending(shipments))

	shipments.Remove(1)
	assert.Zero(t, pending(shipments))
}

func TestPutResolvesNestedKeys(t *testing.T) {
	targets, shipments := newShipmentFixture(t)
	require.NoError(t, targets.UpdateOrInsert(entity(5)))

	mine := &testShipment{ID: 1, Shipping: &testAddress{
		Extra: value.Obj(value.O("testTypeId", value.Int(5))),
	}}
	require.NoError(t, shipments.Put(mine))
	assert.Equal(t, int64(5), targetID(mine.Shipping.Target))

	mine.Billing.Extra = value.Obj(value.O("TestTypeId", value.Int(6)))
	other := &testShipment{ID: 2, Billing: mine.Billing}
	require.NoError(t, shipments.Put(other))
	assert.Equal(t, 1, pending(shipments))
	require.NoError(t, targets.UpdateOrInsert(entity(6)))
	assert.Equal(t, int64(6), targetID(other.Billing.Target))
}

func TestNestedOnlyFieldRegistration(t *testing.T) {
	targets := newTestCache(t)
	shipments, err := New[testShipment]("shipment", WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, shipments.AddDependency(targets))
	assert.ErrorIs(t, shipments.AddDependency(targets, WithForeignKey("x"), WithResolvedField("street")), ErrInvalidDependencyType)
	assert.ErrorIs(t, shipments.AddDependency(targets, WithForeignKey("y"), WithResolvedField("nowhere")), ErrUnknownField)

	// A nested-only field leaves top-level keys as plain fields.
	require.NoError(t, targets.UpdateOrInsert(entity(5)))
	require.NoError(t, shipments.UpdateOrInsert(shipment(1, value.O("testTypeId", value.Int(5)))))
	s, _ := shipments.Get(1)
	assert.Empty(t, shipments.KeyPaths(s, "testTypeId"))
}

func TestRecordNestedKeyResolves(t *testing.T) {
	customers, err := New[Record]("customer", WithLogger(quietLogger()))
	require.NoError(t, err)
	orders, err := New[Record]("order", WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, orders.AddDependency(customers))

	require.NoError(t, customers.UpdateOrInsert(value.Obj(value.O("customerId", value.Int(5)))))
	require.NoError(t, orders.UpdateOrInsert(value.Obj(
		value.O("orderId", value.Int(1)),
		value.O("shipping", value.Obj(value.O("customerId", value.Int(5)))),
	)))
	require.NoError(t, orders.UpdateOrInsert(value.Obj(
		value.O("orderId", value.Int(2)),
		value.O("shipping", value.Obj(
			value.O("city", value.String("Oslo")),
			value.O("customerId", value.Int(9)),
		)),
	)))

	first, _ := orders.Get(1)
	c, ok := first.Link("shipping.customer")
	require.True(t, ok)
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, value.Object{}, first.Fields["shipping"])

	second, _ := orders.Get(2)
	_, ok = second.Link("shipping.customer")
	assert.False(t, ok)
	assert.Equal(t, value.Obj(value.O("city", value.String("Oslo"))), second.Fields["shipping"])
	assert.Equal(t, 1, pending(orders))

	require.NoError(t, customers.UpdateOrInsert(value.Obj(value.O("customerId", value.Int(9)))))
	c, ok = second.Link("shipping.customer")
	require.True(t, ok)
	assert.Equal(t, int64(9), c.ID)
}

func TestIdentityNamedKeyResolvesOnlyWhenNested(t *testing.T) {
	nodes, err := New[Record]("node", WithLogger(quietLogger()))
	require.NoError(t, err)
	// The default key for a self dependency is the identity field.
	require.NoError(t, nodes.AddDependency(nodes, WithResolvedField("parent")))

	require.NoError(t, nodes.UpdateOrInsert(
		value.Obj(value.O("nodeId", value.Int(1))),
		value.Obj(
			value.O("nodeId", value.Int(2)),
			value.O("up", value.Obj(value.O("nodeId", value.Int(1)))),
		),
	))

	child, _ := nodes.Get(2)
	assert.Equal(t, []string{"up"}, nodes.KeyPaths(child, "nodeId"))
	p, ok := child.Link("up.parent")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.ID)

	root, _ := nodes.Get(1)
	assert.Empty(t, nodes.KeyPaths(root, "nodeId"))
	assert.Empty(t, root.Links)
}
