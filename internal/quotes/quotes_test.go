package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/maintenance"
)

func TestParsePrice(t *testing.T) {
	cases := map[string]int64{
		"0":       0,
		"12":      1200,
		"12.5":    1250,
		"1234.05": 123405,
	}
	for in, want := range cases {
		got, err := ParsePrice(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "12.", ".5", "1.234", "-3", "1e3", "12,50"} {
		_, err := ParsePrice(bad)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, bad)
	}
}

func TestAddAndList(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	now := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)

	_, err := svc.Add(ctx, "Acme", "Tensile test", 45000, "usd", maintenance.MustParseDate("2025-01-02"), now)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "Globex", "Hardness test", 12000, "EUR", maintenance.MustParseDate("2025-01-05"), now)
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Globex", list[0].Customer)
	assert.Equal(t, "USD", list[1].Currency)

	_, err = svc.Add(ctx, "", "x", 1, "USD", maintenance.MustParseDate("2025-01-05"), now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = svc.Add(ctx, "a", "x", -1, "USD", maintenance.MustParseDate("2025-01-05"), now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
