package service

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\p{M} ]+$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

var affirmatives = []string{
	"si", "sí", "claro", "ok", "okay", "va", "sale", "dale", "simon", "simón",
	"por supuesto", "me interesa", "de acuerdo", "está bien", "esta bien",
	"perfecto", "adelante", "yes",
}

var greetings = []string{
	"hola", "buenas", "buenos dias", "buenos días", "buenas tardes",
	"buenas noches", "que tal", "qué tal", "hey", "hello", "hi", "saludos",
}

func isValidName(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 2 {
		return false
	}
	return namePattern.MatchString(trimmed)
}

func isValidEmail(text string) bool {
	return emailPattern.MatchString(strings.TrimSpace(text))
}

func isAffirmative(text string) bool {
	normalized := normalize(text)
	for _, a := range affirmatives {
		if normalized == a || strings.HasPrefix(normalized, a+" ") {
			return true
		}
	}
	return false
}

// isBareGreeting reports whether the message is just a salutation with no
// substance, e.g. "hola" or "buenas tardes".
func isBareGreeting(text string) bool {
	normalized := normalize(text)
	for _, g := range greetings {
		if normalized == g {
			return true
		}
	}
	return false
}

func normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	return strings.Trim(lowered, "!¡.,:;?¿ ")
}

// capitalizeName uppercases the first letter of each word, the way the
// name is later spoken and displayed.
func capitalizeName(text string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
