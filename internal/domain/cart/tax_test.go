package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyFor(t *testing.T) {
	assert.IsType(t, NoTax{}, PolicyFor(d("0")))
	assert.IsType(t, NoTax{}, PolicyFor(d("-0.1")))
	assert.IsType(t, FlatRate{}, PolicyFor(d("0.1")))

	assert.True(t, d("10").Equal(FlatRate{Rate: d("0.1")}.Tax(d("100"))))
	assert.True(t, FlatRate{Rate: d("0.1")}.Tax(d("-5")).IsZero())
}
