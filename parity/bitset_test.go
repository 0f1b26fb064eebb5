package parity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitSet(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	s := newBitSet(200)
	assert.Equal(0, s.Size())
	assert.Equal(200, s.Cap())

	s.Add(5)
	s.Add(130)
	s.Add(5) // idempotent
	assert.Equal(2, s.Size())
	assert.True(s.Contains(5))
	assert.True(s.Contains(130))
	assert.False(s.Contains(6))

	s.Rm(5)
	assert.Equal(1, s.Size())
	assert.False(s.Contains(5))
	s.Rm(5) // idempotent
	assert.Equal(1, s.Size())

	s.Clear()
	assert.Equal(0, s.Size())
	assert.False(s.Contains(130))
}

func TestBitmap2d(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	m := newBitmap2d(3, 70)
	assert.False(m.Test(0, 0))
	assert.False(m.RowFull(0))

	for col := 0; col < 70; col++ {
		m.Set(0, col)
	}
	assert.True(m.RowFull(0))
	assert.False(m.RowFull(1))

	m.Reset(0, 3)
	assert.False(m.RowFull(0))
	assert.False(m.Test(0, 3))
}

func TestBitmap2dColumnKnownExcept(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	m := newBitmap2d(4, 5)
	for row := 0; row < 4; row++ {
		if row == 2 {
			continue
		}
		m.Set(row, 1)
	}
	assert.True(m.ColumnKnownExcept(1, 2))
	assert.False(m.ColumnKnownExcept(1, 1))
	assert.False(m.ColumnKnownExcept(1, -1))

	m.Set(2, 1)
	assert.True(m.ColumnKnownExcept(1, -1))
}
