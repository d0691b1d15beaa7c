package engine

import (
	"sort"
	"strings"
	"unicode"
)

// WildcardDoors is the persisted marker for "every door".
const WildcardDoors = "*"

// DoorSet is an immutable set of door names. The zero value is the empty set.
type DoorSet struct {
	all   bool
	names map[string]struct{}
}

// AllDoors returns the wildcard set.
func AllDoors() DoorSet { return DoorSet{all: true} }

func NewDoorSet(names ...string) DoorSet {
	var s DoorSet
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if n == WildcardDoors {
			return AllDoors()
		}
		if s.names == nil {
			s.names = make(map[string]struct{}, len(names))
		}
		s.names[n] = struct{}{}
	}
	return s
}

// ParseDoorList parses the persisted card door column. Older rows are space
// separated, newer ones comma separated; both (and mixes) are accepted.
func ParseDoorList(v string) DoorSet {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return NewDoorSet(fields...)
}

func (s DoorSet) IsWildcard() bool { return s.all }

// Len reports the number of named doors. It is 0 for the wildcard set.
func (s DoorSet) Len() int { return len(s.names) }

func (s DoorSet) IsEmpty() bool { return !s.all && len(s.names) == 0 }

func (s DoorSet) Has(name string) bool {
	if s.all {
		return true
	}
	_, ok := s.names[name]
	return ok
}

func (s DoorSet) Union(o DoorSet) DoorSet {
	if s.all || o.all {
		return AllDoors()
	}
	out := DoorSet{names: make(map[string]struct{}, len(s.names)+len(o.names))}
	for n := range s.names {
		out.names[n] = struct{}{}
	}
	for n := range o.names {
		out.names[n] = struct{}{}
	}
	return out
}

// Names returns the named doors sorted. The wildcard set has no names.
func (s DoorSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// String renders the comma-joined persistence form.
func (s DoorSet) String() string {
	if s.all {
		return WildcardDoors
	}
	return strings.Join(s.Names(), ",")
}
