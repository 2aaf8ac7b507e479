package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaveOutcome(t *testing.T) {
	assert.True(t, SaveOK.OK())
	assert.False(t, SaveFailed.OK())
	assert.Equal(t, "OK", SaveOK.String())
	assert.Equal(t, "Failed", SaveFailed.Name())
	assert.Equal(t, 1, SaveFailed.Number())

	bogus := SaveOutcome(42)
	assert.False(t, bogus.IsValid())
	assert.Equal(t, IllegalValue, bogus.Number())
	assert.Equal(t, IllegalName, bogus.String())
	assert.Equal(t, IllegalDesc, bogus.Desc())
}

func TestQueryFilterAnd(t *testing.T) {
	var none *QueryFilter
	a := NewQueryFilter("id > ?", 1)
	b := NewQueryFilter("name = ?", "x")

	assert.True(t, none.IsEmpty())
	assert.Same(t, a, none.And(a))
	assert.Same(t, a, a.And(nil))

	ab := a.And(b)
	assert.Equal(t, "(id > ?) AND (name = ?)", ab.Schema)
	assert.Equal(t, []interface{}{1, "x"}, ab.Args)
}

func TestPageRequestDefaults(t *testing.T) {
	req := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, req.GetPage())
	assert.Equal(t, 10, req.GetPageSize())
	assert.Equal(t, 0, req.GetOffset())

	req = NewPageRequestWithFilter(3, 5, NewQueryFilter("x = ?", 1))
	assert.Equal(t, 10, req.GetOffset())
	assert.NotNil(t, req.GetFilter())
}

func TestPaginationTotalPages(t *testing.T) {
	p := NewDefaultPagination[struct{}](1, 10)
	assert.Equal(t, 0, p.TotalPages())
	p.Total = 21
	assert.Equal(t, 3, p.TotalPages())
}
