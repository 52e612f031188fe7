package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptySandboxDeniesNetwork(t *testing.T) {
	sb := EmptySandbox()
	assert.False(t, sb.NetworkAllowed("example.com"))
	assert.Empty(t, sb.Env)
	assert.Empty(t, sb.Mounts)
}

func TestPackUnpackPtrLenRoundTrip(t *testing.T) {
	packed := packPtrLen(1024, 64)
	ptr, size := unpackPtrLen(packed)
	assert.Equal(t, uint32(1024), ptr)
	assert.Equal(t, uint32(64), size)
}
