// Package leader turns unstructured inbound messages into queued tasks.
// Classification is keyword and pattern based over a fixed, ordered set
// of lead types; the first matching category wins, so rule order is part
// of the behavior and must not be shuffled.
package leader

import (
	"regexp"
	"strconv"
	"strings"
)

// LeadType is a classified intent category.
type LeadType string

const (
	LeadVendorOnboarding LeadType = "vendor_onboarding"
	LeadBookingRequest   LeadType = "booking_request"
	LeadCalendarSync     LeadType = "calendar_sync"
	LeadPricingUpdate    LeadType = "pricing_update"
	LeadMarketingRequest LeadType = "marketing_request"
	LeadSupportIssue     LeadType = "support_issue"
	LeadPaymentRequest   LeadType = "payment_request"
	LeadGeneralInquiry   LeadType = "general_inquiry"
)

// leadRule binds a lead type to its trigger keywords. Keywords are
// matched case-insensitively as whole words; phrases may contain spaces.
type leadRule struct {
	leadType LeadType
	keywords []string
}

// leadRules is evaluated top to bottom, first match wins. "booking" on
// its own is deliberately absent from the booking rules: messages about
// an existing booking ("refund for booking 789") belong to the later
// categories, while new requests say "book", "reserve" or "availability".
var leadRules = []leadRule{
	{LeadVendorOnboarding, []string{
		"onboard", "onboarding", "become a vendor", "list my", "partner with",
		"register my", "sign up", "join as",
	}},
	{LeadBookingRequest, []string{
		"book", "reserve", "reservation", "make a booking", "availability",
		"available", "party of", "seats",
	}},
	{LeadCalendarSync, []string{
		"calendar", "sync", "ical", "out of office", "block the dates",
	}},
	{LeadPricingUpdate, []string{
		"price", "pricing", "tariff", "rate change", "update the rate",
		"new rates", "discount",
	}},
	{LeadMarketingRequest, []string{
		"marketing", "campaign", "promotion", "promote", "newsletter", "advertise",
	}},
	{LeadSupportIssue, []string{
		"help", "support", "issue", "problem", "complaint", "broken",
		"not working", "urgent",
	}},
	{LeadPaymentRequest, []string{
		"refund", "payment", "charge", "charged", "invoice", "billing",
		"card", "declined", "pay",
	}},
}

// Classify maps free text to a lead type. Unmatched text falls back to
// general_inquiry; inbound messages are never dropped.
func Classify(text string) LeadType {
	lower := strings.ToLower(text)
	for _, rule := range leadRules {
		for _, kw := range rule.keywords {
			if containsPhrase(lower, kw) {
				return rule.leadType
			}
		}
	}
	return LeadGeneralInquiry
}

// containsPhrase reports whether text contains phrase bounded by
// non-alphanumeric runes. Both arguments must already be lowercase.
func containsPhrase(text, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		start = i + 1
	}
}

func boundaryBefore(text string, i int) bool {
	return i == 0 || !isWordByte(text[i-1])
}

func boundaryAfter(text string, end int) bool {
	return end >= len(text) || !isWordByte(text[end])
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// Sender is the metadata delivered with an inbound message.
type Sender struct {
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name"`
	Channel     string `json:"channel,omitempty"`
}

// Fields are the structured values extracted from a message.
type Fields struct {
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	StartDate  string  `json:"start_date,omitempty"`
	EndDate    string  `json:"end_date,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	BookingRef string  `json:"booking_ref,omitempty"`
}

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe   = regexp.MustCompile(`\+?[0-9][0-9\s\-().]{6,}[0-9]`)
	dateRe    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	amountRe  = regexp.MustCompile(`(?i)(USD|EUR|GBP|KES|TZS|\$|€|£)\s?([0-9]+(?:\.[0-9]{1,2})?)`)
	bookingRe = regexp.MustCompile(`(?i)booking\s+#?([A-Za-z0-9\-]+)`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP"}

// Extract pulls structured fields out of free text: email, phone, a
// start/end date pair, a monetary amount, and a booking reference.
// Best-effort; anything unmatched stays zero.
func Extract(text string) Fields {
	var f Fields

	f.Email = emailRe.FindString(text)

	// Dates first: a bare date would otherwise match the phone pattern.
	dates := dateRe.FindAllString(text, 2)
	if len(dates) > 0 {
		f.StartDate = dates[0]
	}
	if len(dates) > 1 {
		f.EndDate = dates[1]
	}

	withoutDates := dateRe.ReplaceAllString(text, "")
	if phone := phoneRe.FindString(withoutDates); phone != "" {
		f.Phone = strings.TrimSpace(phone)
	}

	if m := amountRe.FindStringSubmatch(text); m != nil {
		f.Currency = strings.ToUpper(m[1])
		if mapped, ok := currencySymbols[m[1]]; ok {
			f.Currency = mapped
		}
		f.Amount, _ = strconv.ParseFloat(m[2], 64)
	}

	if m := bookingRe.FindStringSubmatch(text); m != nil {
		f.BookingRef = m[1]
	}

	return f
}
