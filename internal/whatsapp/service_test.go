package whatsapp

import (
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternationalNumber(t *testing.T) {
	s := New("250")
	tests := []struct {
		in   string
		want string
	}{
		{"0788123456", "250788123456"},
		{"+250 788 123 456", "250788123456"},
		{"788123456", "250788123456"},
		{"250788123456", "250788123456"},
	}
	for _, tt := range tests {
		got, err := s.InternationalNumber(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := s.InternationalNumber("n/a")
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	s := New("")
	assert.Equal(t, "131,165", s.FormatAmount(decimal.NewFromInt(131165)))
	assert.Equal(t, "1,200.50", s.FormatAmount(decimal.RequireFromString("1200.5")))
}

func TestOrderHandoff(t *testing.T) {
	s := New("250")
	h, err := s.OrderHandoff("0788123456", OrderMessage{
		StoreName:    "Duka",
		OrderNumber:  7,
		CustomerName: "Aline",
		Lines: []Line{
			{Name: "Sugar 1kg", Quantity: 2, Subtotal: decimal.NewFromInt(3000)},
			{Name: "Milk", Quantity: 1, Subtotal: decimal.NewFromInt(800), Notes: "cold"},
		},
		Total:      decimal.NewFromInt(3800),
		Currency:   "RWF",
		ConfirmURL: "https://soko.example/api/v1/public/orders/confirm?token=abc",
		RejectURL:  "https://soko.example/api/v1/public/orders/reject?token=abc",
	})
	require.NoError(t, err)

	assert.Contains(t, h.Text, "New order #7 from Aline")
	assert.Contains(t, h.Text, "- 2x Sugar 1kg: 3,000 RWF")
	assert.Contains(t, h.Text, "(cold)")
	assert.Contains(t, h.Text, "Total: 3,800 RWF")
	assert.Contains(t, h.Text, "Confirm: https://soko.example/api/v1/public/orders/confirm?token=abc")

	require.True(t, strings.HasPrefix(h.Link, "https://wa.me/250788123456?text="))
	u, err := url.Parse(h.Link)
	require.NoError(t, err)
	assert.Equal(t, h.Text, u.Query().Get("text"))
}
