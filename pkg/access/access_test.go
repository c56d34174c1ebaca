package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_GrantRevoke(t *testing.T) {
	c := NewChecker()

	assert.False(t, c.Has("alice", CapSubscriber))

	c.Grant("alice", CapSubscriber)
	assert.True(t, c.Has("alice", CapSubscriber))
	assert.False(t, c.Has("alice", CapOperator))

	c.Revoke("alice", CapSubscriber)
	assert.False(t, c.Has("alice", CapSubscriber))
}

func TestChecker_Implication(t *testing.T) {
	c := NewChecker()

	c.Grant("ops", CapOperator)
	assert.True(t, c.Has("ops", CapSubscriber))
	assert.True(t, c.Has("ops", CapOperator))
	assert.False(t, c.Has("ops", CapAdmin))

	c.Grant("root", CapAdmin)
	assert.True(t, c.Has("root", CapSubscriber))
	assert.True(t, c.Has("root", CapOperator))
	assert.True(t, c.Has("root", CapAdmin))
}

func TestChecker_Require(t *testing.T) {
	c := NewChecker()
	c.Grant("alice", CapSubscriber)

	assert.NoError(t, c.Require("alice", CapSubscriber))

	err := c.Require("alice", CapAdmin)
	assert.Error(t, err)
	assert.True(t, IsDenied(err))
	assert.Contains(t, err.Error(), "admin")
	assert.False(t, IsDenied(nil))
}

func TestParseCapability(t *testing.T) {
	for _, want := range []Capability{CapSubscriber, CapOperator, CapAdmin} {
		got, ok := ParseCapability(string(want))
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := ParseCapability("superuser")
	assert.False(t, ok)
}
