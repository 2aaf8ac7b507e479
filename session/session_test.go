package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/unitofwork/database"
	"github.com/tomoncle/unitofwork/query"
	"github.com/tomoncle/unitofwork/types"
	"github.com/uptrace/bun"
)

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID     int64    `bun:"id,pk"`
	Name   string   `bun:"name,notnull"`
	Orders []*Order `bun:"rel:has-many,join:id=customer_id"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID         int64     `bun:"id,pk"`
	CustomerID int64     `bun:"customer_id"`
	Item       string    `bun:"item"`
	Customer   *Customer `bun:"rel:belongs-to,join:customer_id=id"`
}

type Coupon struct {
	bun.BaseModel `bun:"table:coupons,alias:cp"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Code string `bun:"code,notnull,unique"`
}

type tagged struct {
	Code string
}

func (t *tagged) EntityKey() string { return "tagged:" + t.Code }

func memoryConfig(t *testing.T) *database.ConnectionConfig {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return &database.ConnectionConfig{
		Type:         "sqlite",
		DBName:       fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

func openDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()
	mgr := database.NewDatabaseManager(memoryConfig(t))
	require.NoError(t, mgr.Connect(ctx))
	t.Cleanup(func() { _ = mgr.Disconnect() })
	require.NoError(t, mgr.CreateTables(ctx, (*Customer)(nil), (*Order)(nil)))
	return mgr.GetDB()
}

func countRows(t *testing.T, db bun.IDB, model interface{}) int {
	t.Helper()
	n, err := db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestStateEnum(t *testing.T) {
	assert.Equal(t, "Added", Added.String())
	assert.Equal(t, 3, Deleted.Number())
	assert.True(t, Modified.Pending())
	assert.False(t, Detached.Pending())
	assert.False(t, Unmanaged.Pending())
	assert.False(t, State(42).IsValid())
	assert.Equal(t, types.IllegalName, State(42).Name())
	assert.Equal(t, types.IllegalValue, State(42).Number())
}

func TestTrackerKey(t *testing.T) {
	tr := NewTracker(openDB(t).Table)

	key, err := tr.Key(&Customer{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, "customers:7", key)

	fresh := &Customer{Name: "new"}
	key, err = tr.Key(fresh)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "customers:new:"))
	again, _ := tr.Key(fresh)
	assert.Equal(t, key, again)
	other, _ := tr.Key(&Customer{Name: "new"})
	assert.NotEqual(t, key, other)

	key, err = tr.Key(&tagged{Code: "x"})
	require.NoError(t, err)
	assert.Equal(t, "tagged:x", key)

	_, err = tr.Key(nil)
	assert.ErrorIs(t, err, ErrNilEntity)
	_, err = tr.Key((*Customer)(nil))
	assert.ErrorIs(t, err, ErrNilEntity)
	_, err = tr.Key(Customer{ID: 1})
	assert.ErrorIs(t, err, ErrNotEntity)
	_, err = tr.Key(new(int))
	assert.ErrorIs(t, err, ErrNotEntity)
}

func TestTrackerLastWriterWins(t *testing.T) {
	tr := NewTracker(openDB(t).Table)

	first := &Customer{ID: 1, Name: "first"}
	second := &Customer{ID: 1, Name: "second"}
	require.NoError(t, tr.Track(first, Added))
	require.NoError(t, tr.Track(second, Modified))

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, Modified, tr.State(first))
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Same(t, second, pending[0].Entity)

	require.NoError(t, tr.Track(first, Detached))
	assert.Empty(t, tr.Pending())
	assert.Equal(t, Unmanaged, tr.State(&Customer{ID: 2}))
}

func TestTrackerFollowsAssignedKey(t *testing.T) {
	tr := NewTracker(openDB(t).Table)

	fresh := &Customer{Name: "fresh"}
	require.NoError(t, tr.Track(fresh, Added))
	fresh.ID = 5
	assert.Equal(t, Added, tr.State(fresh))
	require.NoError(t, tr.Track(fresh, Detached))

	assert.Equal(t, 1, tr.Len())
	assert.Empty(t, tr.Pending())
	assert.Equal(t, Detached, tr.State(&Customer{ID: 5}))

	other := &Customer{Name: "other"}
	require.NoError(t, tr.Track(other, Added))
	other.ID = 5
	require.NoError(t, tr.Track(other, Modified))
	assert.Equal(t, 1, tr.Len())
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Same(t, other, pending[0].Entity)
	assert.Equal(t, "customers:5", pending[0].Key)
}

func TestTrackerPendingOrder(t *testing.T) {
	tr := NewTracker(openDB(t).Table)

	a, b, c := &Customer{ID: 1}, &Customer{ID: 2}, &Customer{ID: 3}
	require.NoError(t, tr.Track(a, Added))
	require.NoError(t, tr.Track(b, Added))
	require.NoError(t, tr.Track(c, Deleted))
	require.NoError(t, tr.Track(a, Modified))

	var keys []string
	for _, e := range tr.Pending() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"customers:2", "customers:3", "customers:1"}, keys)

	tr.Reset()
	assert.Zero(t, tr.Len())
}

func TestSaveChanges(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db)
	customers := SetOf[Customer](s)

	alice := &Customer{ID: 1, Name: "alice"}
	bob := &Customer{ID: 2, Name: "bob"}
	require.NoError(t, customers.Add(alice))
	require.NoError(t, customers.Add(bob))
	assert.Equal(t, Added, customers.State(alice))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Equal(t, 2, countRows(t, db, (*Customer)(nil)))
	assert.Zero(t, s.Tracker().Len())
	assert.Equal(t, Unmanaged, customers.State(alice))

	require.NoError(t, customers.Update(&Customer{ID: 1, Name: "alice v2"}))
	require.NoError(t, customers.Remove(bob))
	require.NoError(t, s.SaveChanges(ctx))

	got, err := customers.First(ctx, query.New(types.NewQueryFilter("id = ?", 1)))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice v2", got.Name)
	assert.Equal(t, 1, countRows(t, db, (*Customer)(nil)))

	require.NoError(t, s.SaveChanges(ctx), "nothing pending")
}

func TestSaveChangesRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db)
	customers := SetOf[Customer](s)

	require.NoError(t, customers.Add(&Customer{ID: 1, Name: "kept out"}))
	require.NoError(t, customers.Update(&Customer{ID: 99, Name: "ghost"}))

	err := s.SaveChanges(ctx)
	require.ErrorIs(t, err, ErrNoRowsAffected)
	assert.Contains(t, err.Error(), "customers:99")
	assert.Zero(t, countRows(t, db, (*Customer)(nil)))
	assert.Len(t, s.Tracker().Pending(), 2)
}

func TestDetachAfterFailedSave(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, database.CreateTables(ctx, db, (*Coupon)(nil)))
	s := New(db)
	coupons := SetOf[Coupon](s)

	a := &Coupon{Code: "a"}
	b := &Coupon{Code: "a"}
	require.NoError(t, coupons.Add(a))
	require.NoError(t, coupons.Add(b))
	require.Error(t, s.SaveChanges(ctx))
	assert.Zero(t, countRows(t, db, (*Coupon)(nil)))

	require.NoError(t, coupons.Detach(a))
	require.NoError(t, coupons.Detach(b))
	assert.Equal(t, Detached, coupons.State(a))
	assert.Empty(t, s.Tracker().Pending())
	require.NoError(t, s.SaveChanges(ctx))

	found, err := coupons.Exists(ctx, query.New(types.NewQueryFilter("code = ?", "a")))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, countRows(t, db, (*Coupon)(nil)))
}

func TestSaveChangesWithoutRowsAffectedCheck(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db, WithRowsAffectedCheck(false))

	require.NoError(t, SetOf[Customer](s).Update(&Customer{ID: 99, Name: "ghost"}))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Zero(t, countRows(t, db, (*Customer)(nil)))
}

func TestDetachedEntityIsNotSaved(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db)
	customers := SetOf[Customer](s)

	c := &Customer{ID: 5, Name: "draft"}
	require.NoError(t, customers.Add(c))
	require.NoError(t, customers.Detach(c))
	assert.Equal(t, Detached, customers.State(c))
	require.NoError(t, s.SaveChanges(ctx))
	assert.Zero(t, countRows(t, db, (*Customer)(nil)))
}

func TestLoadRelation(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := New(db)
	require.NoError(t, SetOf[Customer](s).Add(&Customer{ID: 1, Name: "alice"}))
	orders := SetOf[Order](s)
	require.NoError(t, orders.Add(&Order{ID: 10, CustomerID: 1, Item: "book"}))
	require.NoError(t, orders.Add(&Order{ID: 11, CustomerID: 1, Item: "pen"}))
	require.NoError(t, s.SaveChanges(ctx))

	c := &Customer{ID: 1}
	require.NoError(t, s.LoadRelation(ctx, c, "Orders"))
	assert.Equal(t, "alice", c.Name)
	assert.Len(t, c.Orders, 2)

	o := &Order{ID: 10}
	require.NoError(t, s.LoadRelation(ctx, o, "Customer"))
	require.NotNil(t, o.Customer)
	assert.Equal(t, "alice", o.Customer.Name)

	s.SetLazyLoading(false)
	assert.False(t, s.LazyLoading())
	assert.ErrorIs(t, s.LoadRelation(ctx, &Customer{ID: 1}, "Orders"), ErrLazyLoadingDisabled)
	assert.False(t, New(db, WithLazyLoading(false)).LazyLoading())
}

func TestSetQueries(t *testing.T) {
	ctx := context.Background()
	s := New(openDB(t))
	customers := SetOf[Customer](s)
	for i := 1; i <= 5; i++ {
		require.NoError(t, customers.Add(&Customer{ID: int64(i), Name: fmt.Sprintf("c%d", i)}))
	}
	require.NoError(t, s.SaveChanges(ctx))

	all, err := customers.Find(ctx, query.New(nil).OrderBy("id ASC"))
	require.NoError(t, err)
	assert.Len(t, all, 5)

	n, err := customers.Count(ctx, query.New(types.NewQueryFilter("id > ?", 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err := customers.Exists(ctx, query.New(types.NewQueryFilter("name = ?", "c9")))
	require.NoError(t, err)
	assert.False(t, ok)

	none, err := customers.First(ctx, query.New(types.NewQueryFilter("id = ?", 42)))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	closes := 0
	s := New(openDB(t), WithCloser(func() error {
		closes++
		return nil
	}))
	require.NoError(t, SetOf[Customer](s).Add(&Customer{ID: 1, Name: "a"}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closes)
	assert.True(t, s.Closed())
	assert.Zero(t, s.Tracker().Len())

	assert.ErrorIs(t, s.SaveChanges(ctx), ErrSessionClosed)
	assert.ErrorIs(t, SetOf[Customer](s).Add(&Customer{ID: 2}), ErrSessionClosed)
	_, err := SetOf[Customer](s).Find(ctx, query.New(nil))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.LoadRelation(ctx, &Customer{ID: 1}, "Orders"), ErrSessionClosed)
}

func TestSetRejectsNil(t *testing.T) {
	s := New(openDB(t))
	customers := SetOf[Customer](s)
	assert.ErrorIs(t, customers.Add(nil), ErrNilEntity)
	assert.ErrorIs(t, customers.Remove(nil), ErrNilEntity)
	assert.Equal(t, Unmanaged, customers.State(nil))
	assert.NotEmpty(t, s.ID())
	assert.NotEqual(t, s.ID(), New(s.db).ID())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memoryConfig(t))
	require.NoError(t, err)
	require.NoError(t, database.CreateTables(ctx, s.DB(), (*Customer)(nil)))
	require.NoError(t, SetOf[Customer](s).Add(&Customer{ID: 1, Name: "a"}))
	require.NoError(t, s.SaveChanges(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = Open(ctx, &database.ConnectionConfig{Type: "oracle", DBName: "x"})
	assert.Error(t, err)
}

func TestOpenStopsHealthMonitorOnClose(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.HealthCheckInterval = time.Millisecond
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on the health monitor")
	}
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}
