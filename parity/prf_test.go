package parity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPRFDeterministic(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	key := []byte("a marker header used as a key")
	data := []byte("stripe contents go here")

	a := NewPRF(key)
	_, _ = a.Write(data)

	b := NewPRF(key)
	_, _ = b.Write(data[:10])
	_, _ = b.Write(data[10:])

	assert.Equal(a.Sum64(), b.Sum64())
}

func TestPRFSensitiveToKey(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	data := []byte("stripe contents go here")
	h1 := prfOnce([]byte("key one"), data)
	h2 := prfOnce([]byte("key two"), data)
	assert.NotEqual(h1, h2)
}

func TestPRFSensitiveToData(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	key := []byte("fixed key")
	h1 := prfOnce(key, []byte("data one"))
	h2 := prfOnce(key, []byte("data two"))
	assert.NotEqual(h1, h2)
}
