package voice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"outreach_backend/internal/campaigns/repository"
)

var (
	nonDigitRe = regexp.MustCompile(`[^\d]`)
	letterRe   = regexp.MustCompile(`[a-zA-Z]`)
	knownType  = regexp.MustCompile(`terreno|lote|casa|departamento`)
)

// BuildGreeting is the fixed call opener.
func BuildGreeting(contact *repository.Contact) string {
	name := strings.TrimSpace(contact.Name)
	if name != "" {
		name = " " + name
	}
	return fmt.Sprintf("Hola%s, te llamo de PortoBlanco, desarrollo inmobiliario. Tenemos una propiedad que podría interesarte. ¿Tienes un momento?", name)
}

// BuildPitch composes the property pitch from the contact's attributes,
// with numbers spelled out so the TTS voice reads them naturally.
func BuildPitch(contact *repository.Contact) string {
	var b strings.Builder
	b.WriteString("Tenemos ")
	b.WriteString(FormatPropertyType(deref(contact.PropertyType)))
	if loc := deref(contact.PropertyLocation); loc != "" {
		b.WriteString(" en ")
		b.WriteString(loc)
	}
	if size := FormatSize(deref(contact.PropertySize)); size != "" {
		b.WriteString(", de ")
		b.WriteString(size)
	}
	if price := FormatPrice(deref(contact.PropertyPrice)); price != "" {
		b.WriteString(", con precio desde ")
		b.WriteString(price)
	}
	b.WriteString(". ¿Te gustaría agendar una visita para conocerlo?")
	return b.String()
}

// CallSystemPrompt builds the live-reply prompt with the contact's
// property context.
func CallSystemPrompt(contact *repository.Contact) string {
	var b strings.Builder
	b.WriteString("Eres un asesor telefónico de PortoBlanco, desarrollo inmobiliario. ")
	b.WriteString("Hablas por teléfono, así que responde en una o dos frases cortas y naturales, sin listas ni formato. ")
	b.WriteString("Tu objetivo es agendar una visita al desarrollo.\n\nPropiedad ofrecida: ")
	b.WriteString(FormatPropertyType(deref(contact.PropertyType)))
	if loc := deref(contact.PropertyLocation); loc != "" {
		b.WriteString(" en " + loc)
	}
	if size := FormatSize(deref(contact.PropertySize)); size != "" {
		b.WriteString(", " + size)
	}
	if price := FormatPrice(deref(contact.PropertyPrice)); price != "" {
		b.WriteString(", precio desde " + price)
	}
	if extra := deref(contact.ExtraInfo); extra != "" {
		b.WriteString(". " + extra)
	}
	if contact.Name != "" {
		b.WriteString("\nCliente: " + contact.Name)
	}
	return b.String()
}

// FormatPrice spells a numeric price out in Spanish. Values that already
// contain words pass through untouched.
func FormatPrice(price string) string {
	if price == "" {
		return ""
	}
	if letterRe.MatchString(price) {
		return price
	}

	num, err := strconv.Atoi(nonDigitRe.ReplaceAllString(price, ""))
	if err != nil || num == 0 {
		return price
	}

	switch {
	case num >= 1_000_000:
		millions := num / 1_000_000
		thousands := (num % 1_000_000) / 1_000
		text := fmt.Sprintf("%d millones", millions)
		if millions == 1 {
			text = "1 millón"
		}
		if thousands > 0 {
			text += fmt.Sprintf(" %d mil", thousands)
		}
		return text + " pesos"
	case num >= 1_000:
		return fmt.Sprintf("%d mil pesos", num/1_000)
	default:
		return fmt.Sprintf("%d pesos", num)
	}
}

// FormatSize spells a numeric lot size out in Spanish.
func FormatSize(size string) string {
	if size == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(size), "metro") {
		return size
	}

	num, err := strconv.Atoi(nonDigitRe.ReplaceAllString(size, ""))
	if err != nil || num == 0 {
		return size
	}
	return fmt.Sprintf("%d metros cuadrados", num)
}

// FormatPropertyType normalizes the property type for speech.
func FormatPropertyType(propertyType string) string {
	if propertyType == "" {
		return "propiedad"
	}
	lower := strings.ToLower(strings.TrimSpace(propertyType))
	if knownType.MatchString(lower) {
		return propertyType
	}
	return "terreno " + lower
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
