package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitycache/internal/value"
)

type testChild struct {
	Name  string `cache:"name"`
	Depth int    `cache:"depth"`
}

type testEntity struct {
	ID      int64        `cache:"testTypeId,identity"`
	StrProp string       `cache:"strProp"`
	NumProp int          `cache:"numProp"`
	Ratio   float64      `cache:"ratio"`
	Child   *testChild   `cache:"child"`
	Inline  testChild    `cache:"inline"`
	Tags    *[]string    `cache:"tags"`
	Labels  []string     `cache:"labels"`
	Extra   value.Object `cache:",extra"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestCache(t *testing.T, opts ...Option) *Cache[testEntity] {
	t.Helper()
	c, err := New[testEntity]("testType", append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return c
}

func entity(id int64, pairs ...value.Pair) value.Object {
	obj := value.Obj(pairs...)
	obj["testTypeId"] = value.Int(id)
	return obj
}

func cacheIDs[T any](c *Cache[T]) []int64 {
	out := []int64{}
	for _, e := range c.Entities() {
		out = append(out, c.ID(e))
	}
	return out
}

func TestNewDefaultsIdentityField(t *testing.T) {
	c := newTestCache(t)
	assert.Equal(t, "testTypeId", c.IdentityField())
	assert.Equal(t, "testType", c.TypeName())
}

func TestNewWithKeyNamer(t *testing.T) {
	type snake struct {
		ID int64 `cache:"order_id"`
	}
	c, err := New[snake]("order", WithKeyNamer(func(n string) string { return n + "_id" }))
	require.NoError(t, err)
	assert.Equal(t, "order_id", c.IdentityField())
	assert.Equal(t, "customer_id", c.KeyName("customer"))
}

func TestNewRejectsNonStruct(t *testing.T) {
	_, err := New[int]("number")
	assert.ErrorIs(t, err, ErrNotStruct)
}

func TestNewRejectsMissingIdentity(t *testing.T) {
	type noID struct {
		Name string
	}
	_, err := New[noID]("thing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdentityField)

	var argErr *ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "identity", argErr.Argument)
}

func TestNewRejectsNonIntegerIdentity(t *testing.T) {
	type strID struct {
		ID string `cache:",identity"`
	}
	_, err := New[strID]("thing")
	assert.ErrorIs(t, err, ErrIdentityField)
}

func TestInsert(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("a")))))

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "a", got.StrProp)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestFactoryPromotesPayload(t *testing.T) {
	c := newTestCache(t, WithFactory(func() *testEntity {
		return &testEntity{NumProp: 7}
	}))
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("a")))))

	got, _ := c.Get(1)
	assert.Equal(t, 7, got.NumProp)
	assert.Equal(t, "a", got.StrProp)
}

func TestEntitiesSortedAndUnique(t *testing.T) {
	c := newTestCache(t)
	for _, id := range []int64{5, 1, 3, 4, 2, 0, 9, 3, 1} {
		require.NoError(t, c.UpdateOrInsert(entity(id)))
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 9}, cacheIDs(c))
}

func TestSequenceOfPayloads(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(
		entity(2, value.O("strProp", value.String("x"))),
		entity(1),
		entity(2, value.O("strProp", value.String("y"))),
	))
	assert.Equal(t, []int64{1, 2}, cacheIDs(c))
	got, _ := c.Get(2)
	assert.Equal(t, "y", got.StrProp)
}

func TestUpdatePreservesReference(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("a")))))
	ref, _ := c.Get(1)

	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("b")))))

	got, _ := c.Get(1)
	assert.Same(t, ref, got)
	assert.Equal(t, "b", ref.StrProp)
}

func TestPartialUpdateKeepsFields(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("strProp", value.String("a")),
		value.O("numProp", value.Int(3)),
	)))
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("numProp", value.Int(4)))))

	got, _ := c.Get(1)
	assert.Equal(t, "a", got.StrProp)
	assert.Equal(t, 4, got.NumProp)
}

func TestNullLeavesFieldUnchanged(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("a")))))
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.Null{}))))

	got, _ := c.Get(1)
	assert.Equal(t, "a", got.StrProp)
}

func TestNestedObjectMergesInPlace(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("child", value.Obj(value.O("name", value.String("c")), value.O("depth", value.Int(1)))),
		value.O("inline", value.Obj(value.O("name", value.String("i")))),
	)))
	got, _ := c.Get(1)
	child := got.Child
	require.NotNil(t, child)

	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("child", value.Obj(value.O("name", value.String("d")))),
		value.O("inline", value.Obj(value.O("depth", value.Int(5)))),
	)))

	assert.Same(t, child, got.Child)
	assert.Equal(t, testChild{Name: "d", Depth: 1}, *got.Child)
	assert.Equal(t, testChild{Name: "i", Depth: 5}, got.Inline)
}

func TestArrayReplacedInPlace(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("tags", value.Array{value.String("x")}))))
	got, _ := c.Get(1)
	tags := got.Tags
	require.NotNil(t, tags)
	assert.Equal(t, []string{"x"}, *tags)

	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("tags", value.Array{value.String("y"), value.String("z")}))))
	assert.Same(t, tags, got.Tags)
	assert.Equal(t, []string{"y", "z"}, *tags)

	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("tags", value.Array{value.String("w")}))))
	assert.Same(t, tags, got.Tags)
	assert.Equal(t, []string{"w"}, *tags)
}

func TestSliceReusesBackingArray(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("labels", value.Array{value.String("a"), value.String("b")}))))
	got, _ := c.Get(1)
	first := &got.Labels[0]

	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("labels", value.Array{value.String("c")}))))
	assert.Equal(t, []string{"c"}, got.Labels)
	assert.Same(t, first, &got.Labels[0])
}

func TestSliceOutgrowingCapacityGetsNewArray(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("labels", value.Array{value.String("a")}))))
	got, _ := c.Get(1)
	held := got.Labels

	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("labels", value.Array{value.String("b"), value.String("c")}))))
	assert.Equal(t, []string{"b", "c"}, got.Labels)
	assert.Equal(t, []string{"a"}, held, "a grown []T field no longer shares the caller's array")
}

func TestUnknownFieldsGoToExtra(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("color", value.String("red")),
		value.O("meta", value.Obj(value.O("a", value.Int(1)))),
	)))
	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("meta", value.Obj(value.O("b", value.Int(2)))),
	)))

	got, _ := c.Get(1)
	assert.Equal(t, value.String("red"), got.Extra["color"])
	assert.Equal(t, value.Obj(value.O("a", value.Int(1)), value.O("b", value.Int(2))), got.Extra["meta"])
}

func TestCaseInsensitiveFieldMatch(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("STRPROP", value.String("loud")))))
	got, _ := c.Get(1)
	assert.Equal(t, "loud", got.StrProp)
}

func TestTypeMismatchSkipsField(t *testing.T) {
	var logs bytes.Buffer
	c, err := New[testEntity]("testType", WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	require.NoError(t, c.UpdateOrInsert(entity(1,
		value.O("strProp", value.Int(3)),
		value.O("numProp", value.Int(2)),
		value.O("ratio", value.Int(2)),
	)))

	got, _ := c.Get(1)
	assert.Equal(t, "", got.StrProp)
	assert.Equal(t, 2, got.NumProp)
	assert.Equal(t, 2.0, got.Ratio)
	assert.Contains(t, logs.String(), "type mismatch")
	assert.Contains(t, logs.String(), "field=strProp")
}

func TestMissingIdentityUsesZero(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(value.Obj(value.O("strProp", value.String("anon")))))
	require.NoError(t, c.UpdateOrInsert(entity(-1), entity(1)))

	assert.Equal(t, []int64{-1, 0, 1}, cacheIDs(c))
	got, ok := c.Get(0)
	require.True(t, ok)
	assert.Equal(t, "anon", got.StrProp)
}

func TestAddedFiresOncePerNewID(t *testing.T) {
	c := newTestCache(t)
	added, removed := 0, 0
	c.OnEntityAdded(func(ev Event[testEntity]) error {
		added++
		assert.Same(t, c, ev.Cache)
		return nil
	})
	c.OnEntityRemoved(func(Event[testEntity]) error { removed++; return nil })

	require.NoError(t, c.UpdateOrInsert(entity(1)))
	require.NoError(t, c.UpdateOrInsert(entity(1, value.O("strProp", value.String("b")))))

	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
}

func TestAddedEventCarriesStoredEntity(t *testing.T) {
	c := newTestCache(t)
	var seen *testEntity
	c.OnEntityAdded(func(ev Event[testEntity]) error { seen = ev.Entity; return nil })

	require.NoError(t, c.UpdateOrInsert(entity(4)))
	got, _ := c.Get(4)
	assert.Same(t, got, seen)
}

func TestOffEntityAdded(t *testing.T) {
	c := newTestCache(t)
	calls := 0
	tok := c.OnEntityAdded(func(Event[testEntity]) error { calls++; return nil })

	require.NoError(t, c.UpdateOrInsert(entity(1)))
	assert.True(t, c.OffEntityAdded(tok))
	require.NoError(t, c.UpdateOrInsert(entity(2)))

	assert.Equal(t, 1, calls)
}

func TestListenerFailureDoesNotPropagate(t *testing.T) {
	c := newTestCache(t)
	after := 0
	c.OnEntityAdded(func(Event[testEntity]) error { return errors.New("listener broke") })
	c.OnEntityAdded(func(Event[testEntity]) error { panic("listener panicked") })
	c.OnEntityAdded(func(Event[testEntity]) error { after++; return nil })

	require.NoError(t, c.UpdateOrInsert(entity(1)))
	assert.Equal(t, 1, after)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidDependencyTypeFromListenerPropagates(t *testing.T) {
	c := newTestCache(t)
	c.OnEntityAdded(func(Event[testEntity]) error {
		return fmt.Errorf("check: %w", ErrInvalidDependencyType)
	})

	err := c.UpdateOrInsert(entity(1), entity(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDependencyType)
	assert.Contains(t, err.Error(), "insert testType 1")
	assert.Equal(t, []int64{1}, cacheIDs(c))
}

func TestRemoveByID(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1), entity(2), entity(3)))

	var removed []int64
	c.OnEntityRemoved(func(ev Event[testEntity]) error {
		removed = append(removed, ev.Entity.ID)
		return nil
	})

	assert.Equal(t, 1, c.Remove(2))
	assert.Equal(t, 0, c.Remove(42))
	assert.Equal(t, []int64{1, 3}, cacheIDs(c))
	assert.Equal(t, []int64{2}, removed)
}

func TestRemoveByEntity(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1), entity(2)))

	assert.Equal(t, 1, c.RemoveEntities(&testEntity{ID: 1}))
	assert.Equal(t, []int64{2}, cacheIDs(c))
}

func TestRemoveRange(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1), entity(2), entity(3), entity(4)))
	one, _ := c.Get(1)
	three, _ := c.Get(3)

	var removed []int64
	c.OnEntityRemoved(func(ev Event[testEntity]) error {
		removed = append(removed, ev.Entity.ID)
		return nil
	})

	assert.Equal(t, 2, c.RemoveEntities(three, nil, one, &testEntity{ID: 99}))
	assert.Equal(t, []int64{3, 1}, removed)
	assert.Equal(t, []int64{2, 4}, cacheIDs(c))
}

func TestOffEntityRemoved(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1), entity(2)))
	calls := 0
	tok := c.OnEntityRemoved(func(Event[testEntity]) error { calls++; return nil })

	c.Remove(1)
	assert.True(t, c.OffEntityRemoved(tok))
	c.Remove(2)
	assert.Equal(t, 1, calls)
}

func TestReinsertAfterRemoveFiresAdded(t *testing.T) {
	c := newTestCache(t)
	added := 0
	c.OnEntityAdded(func(Event[testEntity]) error { added++; return nil })

	require.NoError(t, c.UpdateOrInsert(entity(1)))
	c.Remove(1)
	require.NoError(t, c.UpdateOrInsert(entity(1)))
	assert.Equal(t, 2, added)
}

func TestClearFiresNoEvents(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(1), entity(2)))
	removed := 0
	c.OnEntityRemoved(func(Event[testEntity]) error { removed++; return nil })

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, removed)

	require.NoError(t, c.UpdateOrInsert(entity(3)))
	assert.Equal(t, []int64{3}, cacheIDs(c))
}

func TestPutStoresCallerPointer(t *testing.T) {
	c := newTestCache(t)
	mine := &testEntity{ID: 5, StrProp: "mine"}
	require.NoError(t, c.Put(mine))

	got, ok := c.Get(5)
	require.True(t, ok)
	assert.Same(t, mine, got)

	added := 0
	c.OnEntityAdded(func(Event[testEntity]) error { added++; return nil })
	require.NoError(t, c.Put(mine))
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, c.Len())
}

func TestPutMergesIntoStoredEntity(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(5, value.O("strProp", value.String("old")), value.O("tags", value.Array{value.String("a")}))))
	stored, _ := c.Get(5)
	tags := stored.Tags

	other := &testEntity{ID: 5, StrProp: "new", Tags: &[]string{"b", "c"}}
	require.NoError(t, c.Put(other))

	got, _ := c.Get(5)
	assert.Same(t, stored, got)
	assert.Equal(t, "new", got.StrProp)
	assert.Same(t, tags, got.Tags)
	assert.Equal(t, []string{"b", "c"}, *got.Tags)
}

func TestEncode(t *testing.T) {
	c := newTestCache(t)
	e := &testEntity{
		ID:      3,
		StrProp: "s",
		Labels:  []string{"l"},
		Child:   &testChild{Name: "c"},
		Extra:   value.Obj(value.O("color", value.String("red"))),
	}

	obj := c.Encode(e)
	assert.Equal(t, value.Int(3), obj["testTypeId"])
	assert.Equal(t, value.String("s"), obj["strProp"])
	assert.Equal(t, value.Array{value.String("l")}, obj["labels"])
	assert.Equal(t, value.Obj(value.O("name", value.String("c")), value.O("depth", value.Int(0))), obj["child"])
	assert.Equal(t, value.String("red"), obj["color"])
	_, hasTags := obj["tags"]
	assert.False(t, hasTags)
}

func TestEntitiesReturnsCopy(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.UpdateOrInsert(entity(2), entity(1)))

	list := c.Entities()
	list[0] = nil
	assert.True(t, slices.IndexFunc(c.Entities(), func(e *testEntity) bool { return e == nil }) < 0)
}
