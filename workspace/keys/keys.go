// Package keys defines composite natural keys shared by the identity resolver,
// the sync engine and the merge engine.
package keys

import (
	"slices"
	"strings"
)

// Key is an ordered tuple of natural key components. Single field keys are
// tuples of length one.
type Key []string

func New(parts ...string) Key {
	return Key(parts)
}

// Compare orders keys component by component, shorter keys first on a shared prefix.
func (k Key) Compare(other Key) int {
	return slices.Compare(k, other)
}

func (k Key) Equal(other Key) bool {
	return slices.Equal(k, other)
}

// Id is an unambiguous encoding of the key, usable as a map key.
func (k Key) Id() string {
	return strings.Join(k, "\x00")
}

func (k Key) String() string {
	if len(k) == 1 {
		return k[0]
	}
	return "(" + strings.Join(k, ", ") + ")"
}

func Sort(ks []Key) {
	slices.SortFunc(ks, Key.Compare)
}
