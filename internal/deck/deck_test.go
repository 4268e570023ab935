package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(v int64) *int64 { return &v }

func TestNewDeckHas52UniqueCards(t *testing.T) {
	t.Parallel()

	d := New()
	assert.Equal(t, Size, d.Remaining())
	assert.Equal(t, 0, d.Dealt())

	cards, err := d.Deal(Size)
	require.NoError(t, err)
	seen := make(map[Card]bool)
	for _, c := range cards {
		require.True(t, c.Valid())
		require.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
	assert.Len(t, seen, Size)
}

func TestShuffleSeededIsReproducible(t *testing.T) {
	t.Parallel()

	a := NewShuffled(seed(1234))
	b := NewShuffled(seed(1234))
	c := NewShuffled(seed(4321))

	assert.Equal(t, a.Peek(Size), b.Peek(Size))
	assert.NotEqual(t, a.Peek(Size), c.Peek(Size))
	assert.NotEqual(t, New().Peek(Size), a.Peek(Size))
}

func TestShuffleUnseededDiffers(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, NewShuffled(nil).Peek(Size), NewShuffled(nil).Peek(Size))
}

func TestDealAndCounts(t *testing.T) {
	t.Parallel()

	d := NewShuffled(seed(7))
	top := d.Peek(5)

	cards, err := d.Deal(2)
	require.NoError(t, err)
	assert.Equal(t, top[:2], cards)
	assert.Equal(t, 2, d.Dealt())
	assert.Equal(t, 50, d.Remaining())

	cards, err = d.Deal(3)
	require.NoError(t, err)
	assert.Equal(t, top[2:], cards)
	assert.Equal(t, Size, d.Dealt()+d.Remaining())
}

func TestDealExhausted(t *testing.T) {
	t.Parallel()

	d := New()
	_, err := d.Deal(50)
	require.NoError(t, err)

	_, err = d.Deal(3)
	require.ErrorIs(t, err, ErrDeckExhausted)
	assert.Equal(t, 2, d.Remaining(), "failed deal must not consume cards")

	cards, err := d.Deal(2)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Empty(t, d.Peek(1))
}

func TestPeekIsNonDestructive(t *testing.T) {
	t.Parallel()

	d := NewShuffled(seed(99))
	first := d.Peek(3)
	second := d.Peek(3)
	assert.Equal(t, first, second)
	assert.Equal(t, Size, d.Remaining())
}

func TestResetRestoresAndShuffles(t *testing.T) {
	t.Parallel()

	d := NewShuffled(seed(5))
	_, err := d.Deal(20)
	require.NoError(t, err)

	d.Reset(seed(5))
	assert.Equal(t, Size, d.Remaining())
	assert.Equal(t, NewShuffled(seed(5)).Peek(Size), d.Peek(Size))
}

func TestNewStacked(t *testing.T) {
	t.Parallel()

	top := MustParseCards("AsAhKsKh")
	d, err := NewStacked(top)
	require.NoError(t, err)
	assert.Equal(t, top, d.Peek(4))

	all, err := d.Deal(Size)
	require.NoError(t, err)
	seen := make(map[Card]bool)
	for _, c := range all {
		require.False(t, seen[c])
		seen[c] = true
	}

	_, err = NewStacked(MustParseCards("AsAs"))
	assert.Error(t, err)
}
