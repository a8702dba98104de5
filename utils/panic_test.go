package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecover(t *testing.T) {
	assert.Equal(t, "haha", Recover(func() {
		panic("haha")
	}))

	finished := false
	assert.Nil(t, Recover(func() {
		finished = true
	}))
	assert.True(t, finished)
}
