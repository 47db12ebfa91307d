package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyOrdering(t *testing.T) {
	ks := []Key{
		New("user2", "projectA", "reviewer"),
		New("user1", "projectB", "annotator"),
		New("user1", "projectA", "reviewer"),
		New("user1", "projectA"),
		New("user1", "projectA", "annotator"),
	}

	Sort(ks)

	assert.Equal(t, []Key{
		New("user1", "projectA"),
		New("user1", "projectA", "annotator"),
		New("user1", "projectA", "reviewer"),
		New("user1", "projectB", "annotator"),
		New("user2", "projectA", "reviewer"),
	}, ks)
}

func TestKeyIdentity(t *testing.T) {
	a := New("a|b", "c")
	b := New("a", "b|c")

	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Id(), b.Id())
	assert.Equal(t, a.Id(), New("a|b", "c").Id())

	assert.Equal(t, "v1", New("v1").String())
	assert.Equal(t, "(u, p, annotator)", New("u", "p", "annotator").String())
}
