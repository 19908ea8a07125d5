package ai

import "regexp"

// Pronunciation fixes applied before synthesis: the TTS voice reads "m²"
// and "$" literally, which sounds wrong on a phone call.
var speechReplacements = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)(\d+)\s*m²`), "$1 metros cuadrados"},
	{regexp.MustCompile(`(?i)(\d+)\s*m2`), "$1 metros cuadrados"},
	{regexp.MustCompile(`(?i)\$\s*([\d,\.]+)\s*pesos`), "$1 pesos"},
	{regexp.MustCompile(`(?i)\$\s*([\d,\.]+)\s*MXN`), "$1 pesos"},
	{regexp.MustCompile(`(?i)\$\s*([\d,\.]+)`), "$1 pesos"},
	{regexp.MustCompile(`(?i)([\d,\.]+)\s*MXN`), "$1 pesos"},
	{regexp.MustCompile(`(?i)pesos\s+pesos`), "pesos"},
	{regexp.MustCompile(`(?i)USD`), "dólares"},
}

// NormalizeForSpeech rewrites units and currency symbols into words.
func NormalizeForSpeech(text string) string {
	out := text
	for _, r := range speechReplacements {
		out = r.pattern.ReplaceAllString(out, r.repl)
	}
	return out
}
