package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		partial   bool
		requested int
		granted   int
		want      Outcome
	}{
		{"full grant", true, 3, 3, Granted{Quantity: 3}},
		{"partial allowed", true, 4, 2, Partial{Requested: 4, ResolvedQuantity: 2}},
		{"nothing left", true, 1, 0, SoldOut{Requested: 1}},
		{"partial denied", false, 4, 2, Denied{Requested: 4, Available: 2}},
		{"nothing left with deny policy", false, 4, 0, SoldOut{Requested: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewResolver(tt.partial).Resolve(tt.requested, tt.granted)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuccess(t *testing.T) {
	assert.True(t, Success(Granted{Quantity: 1}))
	assert.False(t, Success(Partial{Requested: 2, ResolvedQuantity: 1}))
	assert.False(t, Success(SoldOut{Requested: 1}))
	assert.False(t, Success(Denied{Requested: 2, Available: 1}))
}

func TestOutcome_KindAndMessage(t *testing.T) {
	assert.Equal(t, "partial-fulfill", Partial{}.Kind())
	assert.Equal(t, "sold-out", SoldOut{}.Kind())
	assert.Equal(t, "Only 2 tickets available. Partial fulfillment offered.",
		Partial{Requested: 4, ResolvedQuantity: 2}.Message())
	assert.Equal(t, "Hold created for 3 tickets", Granted{Quantity: 3}.Message())
}
