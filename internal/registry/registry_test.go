package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ closed int }

func (f *fakeSession) Close() error { f.closed++; return nil }

func TestAddTempThenPromote(t *testing.T) {
	r := New()
	s := &fakeSession{}
	r.AddTemp(s)

	verified, temp := r.Counts()
	assert.Equal(t, 0, verified)
	assert.Equal(t, 1, temp)

	ok := r.Promote(7, s)
	require.True(t, ok)

	verified, temp = r.Counts()
	assert.Equal(t, 1, verified)
	assert.Equal(t, 0, temp)

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestPromote_RejectsExistingUID(t *testing.T) {
	r := New()
	first := &fakeSession{}
	second := &fakeSession{}
	r.AddTemp(first)
	r.AddTemp(second)

	require.True(t, r.Promote(7, first))
	assert.False(t, r.Promote(7, second))

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRemoveTemp(t *testing.T) {
	r := New()
	s := &fakeSession{}
	r.AddTemp(s)
	r.RemoveTemp(s)

	_, temp := r.Counts()
	assert.Equal(t, 0, temp)
}

func TestRemove(t *testing.T) {
	r := New()
	s := &fakeSession{}
	r.AddTemp(s)
	require.True(t, r.Promote(7, s))

	r.Remove(7)
	_, ok := r.Get(7)
	assert.False(t, ok)
}
