package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideBuy, ParseSide(" BUY "))
	assert.Equal(t, SideSell, ParseSide("short"))
	assert.Equal(t, SideNone, ParseSide("flat"))
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideNone, SideNone.Opposite())
}

func TestNormalizeOrderStatus(t *testing.T) {
	testCases := []struct {
		raw      string
		expected OrderStatus
	}{
		{"NEW", OrderStatusOpen},
		{"partially_filled", OrderStatusOpen},
		{"FILLED", OrderStatusClosed},
		{"closed", OrderStatusClosed},
		{"cancelled", OrderStatusCanceled},
		{"EXPIRED", OrderStatusCanceled},
		{"rejected", OrderStatusCanceled},
		{"", OrderStatusOpen},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeOrderStatus(tc.raw))
		})
	}
}
