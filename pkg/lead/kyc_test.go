package lead

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmail(t *testing.T) {
	info := Extract("you can reach me at Jane.Doe+quotes@Example.COM thanks")
	assert.Equal(t, "jane.doe+quotes@example.com", info.Email)
}

func TestExtractPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"call me on +234 801 234 5678", "+2348012345678"},
		{"my number is (415) 555-0132", "4155550132"},
		{"0803-123-4567 is best", "08031234567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extract(tt.in).Phone, tt.in)
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hi, my name is Chidi Okonkwo and I need car insurance", "Chidi Okonkwo"},
		{"I'm Amara", "Amara"},
		{"this is Jide Bello-Ade from Lagos", "Jide Bello-Ade"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extract(tt.in).Name, tt.in)
	}
}

func TestExtractNothing(t *testing.T) {
	info := Extract("how much does third party cover cost?")
	assert.True(t, info.Empty())
}

func TestExtractIgnoresShortNumbers(t *testing.T) {
	// Amounts and short references should not be mistaken for phone numbers.
	info := Extract("I paid 50000 last year")
	assert.Empty(t, info.Phone)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+2348012345678", NormalizePhone(" +234 (801) 234-5678 "))
	assert.Equal(t, "4155550132", NormalizePhone("415.555.0132"))
}
