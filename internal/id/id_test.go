package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsValidAndUnique(t *testing.T) {
	a, b := New(), New()
	assert.True(t, Valid(a))
	assert.NotEqual(t, a, b)
	assert.False(t, Valid("../etc/passwd"))
	assert.False(t, Valid(""))
}
