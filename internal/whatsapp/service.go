// Package whatsapp assembles merchant order messages and hands them off as wa.me deep links.
// Delivery itself happens in the merchant's WhatsApp client.
package whatsapp

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const deepLinkBase = "https://wa.me/"

var nonDigits = regexp.MustCompile(`[^0-9]`)

type Line struct {
	Name     string
	Quantity int
	Subtotal decimal.Decimal
	Notes    string
}

// OrderMessage is what the merchant sees for a new order.
type OrderMessage struct {
	StoreName    string
	OrderNumber  int64
	CustomerName string
	Lines        []Line
	Total        decimal.Decimal
	Currency     string
	Notes        string
	ConfirmURL   string
	RejectURL    string
}

// Handoff is returned to the customer's client, which opens Link.
type Handoff struct {
	Channel string `json:"channel"`
	Phone   string `json:"phone"`
	Text    string `json:"text"`
	Link    string `json:"link"`
}

type Service struct {
	countryCode string
	printer     *message.Printer
}

// New creates a builder. countryCode is prefixed to local numbers that start with 0.
func New(countryCode string) *Service {
	if countryCode == "" {
		countryCode = "250"
	}
	return &Service{
		countryCode: nonDigits.ReplaceAllString(countryCode, ""),
		printer:     message.NewPrinter(language.English),
	}
}

// InternationalNumber turns a stored merchant phone into the digits wa.me expects.
func (s *Service) InternationalNumber(phone string) (string, error) {
	digits := nonDigits.ReplaceAllString(phone, "")
	switch {
	case digits == "":
		return "", fmt.Errorf("empty phone number")
	case strings.HasPrefix(digits, s.countryCode) && len(digits) > len(s.countryCode)+6:
		return digits, nil
	case strings.HasPrefix(digits, "0"):
		return s.countryCode + digits[1:], nil
	case len(digits) == 9:
		return s.countryCode + digits, nil
	}
	return digits, nil
}

// FormatAmount renders 131165 as "131,165" and keeps cents only when present.
func (s *Service) FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return s.printer.Sprintf("%d", d.IntPart())
	}
	f, _ := d.Round(2).Float64()
	return s.printer.Sprintf("%.2f", f)
}

// OrderText renders the plain-text body.
func (s *Service) OrderText(m OrderMessage) string {
	var b strings.Builder
	if m.StoreName != "" {
		fmt.Fprintf(&b, "*%s*\n", m.StoreName)
	}
	fmt.Fprintf(&b, "New order #%d", m.OrderNumber)
	if m.CustomerName != "" {
		fmt.Fprintf(&b, " from %s", m.CustomerName)
	}
	b.WriteString("\n\n")
	for _, l := range m.Lines {
		fmt.Fprintf(&b, "- %dx %s: %s %s\n", l.Quantity, l.Name, s.FormatAmount(l.Subtotal), m.Currency)
		if l.Notes != "" {
			fmt.Fprintf(&b, "  (%s)\n", l.Notes)
		}
	}
	fmt.Fprintf(&b, "\nTotal: %s %s\n", s.FormatAmount(m.Total), m.Currency)
	if m.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", m.Notes)
	}
	if m.ConfirmURL != "" {
		fmt.Fprintf(&b, "\nConfirm: %s\n", m.ConfirmURL)
	}
	if m.RejectURL != "" {
		fmt.Fprintf(&b, "Reject: %s\n", m.RejectURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DeepLink builds https://wa.me/<digits>?text=<escaped>.
func (s *Service) DeepLink(phone, text string) (string, error) {
	number, err := s.InternationalNumber(phone)
	if err != nil {
		return "", err
	}
	return deepLinkBase + number + "?text=" + url.QueryEscape(text), nil
}

// OrderHandoff renders m and wraps it for the merchant's phone.
func (s *Service) OrderHandoff(phone string, m OrderMessage) (*Handoff, error) {
	text := s.OrderText(m)
	link, err := s.DeepLink(phone, text)
	if err != nil {
		return nil, err
	}
	return &Handoff{Channel: "whatsapp", Phone: phone, Text: text, Link: link}, nil
}
