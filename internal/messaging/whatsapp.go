package messaging

import (
	"errors"
	"net/url"
	"strings"

	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/format"
)

// ErrMissingPhone is returned when no shop phone number is configured.
var ErrMissingPhone = errors.New("messaging: phone number is required")

const waBase = "https://wa.me/"

// WhatsAppLink builds a wa.me deep link that opens a chat with phone, pre-filled with
// an enquiry about product. pageURL, when set, is appended so staff can open the
// product. Only digits of phone are kept.
func WhatsAppLink(phone string, product domain.Product, pageURL string) (string, error) {
	digits := Digits(phone)
	if digits == "" {
		return "", ErrMissingPhone
	}
	return waBase + digits + "?text=" + url.QueryEscape(EnquiryMessage(product, pageURL)), nil
}

// EnquiryMessage renders the pre-filled chat text. Lines whose field is empty are omitted.
func EnquiryMessage(product domain.Product, pageURL string) string {
	lines := []string{"Hello! I'm interested in this product:"}
	add := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		lines = append(lines, label+value)
	}
	add("Product: ", product.Name)
	if product.Price != nil {
		add("Price: ", format.Price(product.Price, product.Currency))
	}
	if product.OriginalPrice != nil && product.Price != nil && *product.OriginalPrice > *product.Price {
		add("Was: ", format.Price(product.OriginalPrice, product.Currency))
	}
	add("Discount: ", strings.TrimPrefix(format.Discount(product.Discount), "-"))
	add("Image: ", product.Image)
	add("Link: ", pageURL)
	lines = append(lines, "Is it available?")
	return strings.Join(lines, "\n")
}

// Digits strips everything but ASCII digits.
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
