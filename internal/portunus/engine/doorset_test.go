package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
)

func TestParseDoorList(t *testing.T) {
	cases := map[string][]string{
		"":                      {},
		"front":                 {"front"},
		"front,back":            {"back", "front"},
		"front back":            {"back", "front"},
		" front ,  back  lab,,": {"back", "front", "lab"},
		"front,front":           {"front"},
	}
	for in, want := range cases {
		got := engine.ParseDoorList(in)
		assert.Equal(t, want, got.Names(), "input %q", in)
		assert.False(t, got.IsWildcard())
	}
}

func TestParseDoorList_Wildcard(t *testing.T) {
	s := engine.ParseDoorList("front, *")
	assert.True(t, s.IsWildcard())
	assert.True(t, s.Has("anything"))
	assert.Equal(t, "*", s.String())
}

func TestDoorSet_UnionAndString(t *testing.T) {
	a := engine.NewDoorSet("front")
	b := engine.NewDoorSet("back")
	u := a.Union(b)
	assert.Equal(t, "back,front", u.String())
	assert.Equal(t, 2, u.Len())
	assert.Equal(t, 1, a.Len(), "union does not mutate its receiver")
	assert.True(t, a.Union(engine.AllDoors()).IsWildcard())
}

func TestDoorSet_ZeroValue(t *testing.T) {
	var s engine.DoorSet
	assert.True(t, s.IsEmpty())
	assert.False(t, s.Has("front"))
	assert.Equal(t, "", s.String())
}
