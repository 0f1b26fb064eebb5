package bytefmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToString(t *testing.T) {
	t.Parallel()

	for _, i := range []struct {
		Human string
		Bytes float64
	}{
		{
			Human: "1.21KiB",
			Bytes: 1234,
		},
		{
			Human: "117.74KiB",
			Bytes: 123456789,
		},
	} {
		t.Run(i.Human, func(t *testing.T) {
			assert := require.New(t)

			assert.Equal(i.Human, ToString(i.Bytes))
		})
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, i := range []struct {
		Name  string
		In    string
		Bytes int64
	}{
		{Name: "bare", In: "1234", Bytes: 1234},
		{Name: "zero", In: "0", Bytes: 0},
		{Name: "kilo-lower", In: "4k", Bytes: 4 * 1024},
		{Name: "kilo-upper", In: "4K", Bytes: 4 * 1024},
		{Name: "mega-lower", In: "3m", Bytes: 3 * 1024 * 1024},
		{Name: "mega-upper", In: "3M", Bytes: 3 * 1024 * 1024},
		{Name: "spaced", In: " 16 k", Bytes: 16 * 1024},
	} {
		t.Run(i.Name, func(t *testing.T) {
			assert := require.New(t)

			n, err := ParseSize(i.In)
			assert.NoError(err)
			assert.Equal(i.Bytes, n)
		})
	}
}

func TestParseSizeInvalid(t *testing.T) {
	t.Parallel()

	for _, i := range []string{"", "abc", "1.5k", "-", "k"} {
		i := i
		t.Run(i, func(t *testing.T) {
			assert := require.New(t)

			_, err := ParseSize(i)
			assert.Error(err)
		})
	}
}
