package voice

import (
	"context"
	"regexp"
	"sync"

	"outreach_backend/platform/logger"
)

// Common response keys.
const (
	keyConfirmTime     = "confirmar_hora"
	keyConfirmDay      = "confirmar_dia"
	keyBooked          = "cita_agendada"
	keyDeclineFarewell = "despedida_negativa"
	keyPleaseRepeat    = "pedir_repetir"
	keyMoreInfo        = "mas_info"
	keyLocation        = "ubicacion"
)

var responseTexts = map[string]string{
	keyConfirmTime:     "¿A qué hora te quedaría bien visitarnos?",
	keyConfirmDay:      "¿Qué día te acomoda mejor para la visita?",
	keyBooked:          "Perfecto, te agendo. Te esperamos en PortoBlanco.",
	keyDeclineFarewell: "Entendido, gracias por tu tiempo. Que tengas excelente día.",
	"si_manana":        "Perfecto, mañana entonces. ¿A qué hora te queda bien?",
	"si_lunes":         "Perfecto, el lunes entonces. ¿A qué hora te queda bien?",
	"si_martes":        "Perfecto, el martes entonces. ¿A qué hora te queda bien?",
	"si_miercoles":     "Perfecto, el miércoles entonces. ¿A qué hora te queda bien?",
	"si_jueves":        "Perfecto, el jueves entonces. ¿A qué hora te queda bien?",
	"si_viernes":       "Perfecto, el viernes entonces. ¿A qué hora te queda bien?",
	"si_sabado":        "Perfecto, el sábado entonces. ¿A qué hora te queda bien?",
	keyPleaseRepeat:    "Disculpa, no te escuché bien. ¿Podrías repetirme?",
	keyMoreInfo:        "Con gusto te cuento más. ¿Qué te gustaría saber del desarrollo?",
	keyLocation:        "PortoBlanco está ubicado en una zona privilegiada. ¿Te gustaría agendar una visita para conocerlo?",
}

// matchers map customer phrasings onto cached responses. Order matters:
// day mentions beat time mentions beat the generic patterns.
var matchers = []struct {
	re  *regexp.Regexp
	key string
}{
	{regexp.MustCompile(`(?i)\bma[ñn]ana\b`), "si_manana"},
	{regexp.MustCompile(`(?i)\blunes\b`), "si_lunes"},
	{regexp.MustCompile(`(?i)\bmartes\b`), "si_martes"},
	{regexp.MustCompile(`(?i)\bmi[eé]rcoles\b`), "si_miercoles"},
	{regexp.MustCompile(`(?i)\bjueves\b`), "si_jueves"},
	{regexp.MustCompile(`(?i)\bviernes\b`), "si_viernes"},
	{regexp.MustCompile(`(?i)\bs[aá]bado\b`), "si_sabado"},
	{regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm|de la ma[ñn]ana|de la tarde)\b`), keyBooked},
	{regexp.MustCompile(`(?i)\ba las\s+\d{1,2}\b`), keyBooked},
	{regexp.MustCompile(`(?i)\b(no gracias|no me interesa|no puedo|estoy ocupado)\b`), keyDeclineFarewell},
	{regexp.MustCompile(`(?i)\b(d[oó]nde est[aá]|ubicaci[oó]n|d[oó]nde queda)\b`), keyLocation},
	{regexp.MustCompile(`(?i)\b(m[aá]s informaci[oó]n|cu[eé]ntame m[aá]s|qu[eé] ofrecen)\b`), keyMoreInfo},
}

// ResponseSet holds pre-synthesized common utterances keyed by intent.
type ResponseSet struct {
	mu     sync.RWMutex
	sounds map[string]string
	log    *logger.Logger
}

// NewResponseSet creates an empty response set. Call Precompile to fill
// the audio cache; matching works without it, playback then falls back
// to live synthesis.
func NewResponseSet(log *logger.Logger) *ResponseSet {
	return &ResponseSet{sounds: make(map[string]string), log: log}
}

// Precompile synthesizes every common response up front. Individual
// failures are logged and skipped, the voicebot then renders those
// responses live at higher latency.
func (r *ResponseSet) Precompile(ctx context.Context, tts TextToSpeech) {
	compiled := 0
	for key, text := range responseTexts {
		sound, err := tts.Render(ctx, text, "common_"+key)
		if err != nil {
			r.log.ProviderError("openai", "precompile "+key, err)
			continue
		}
		r.mu.Lock()
		r.sounds[key] = sound
		r.mu.Unlock()
		compiled++
	}
	r.log.Info("common responses precompiled", "count", compiled, "total", len(responseTexts))
}

// Match returns the response key matching the customer text, or "".
func (r *ResponseSet) Match(text string) string {
	for _, m := range matchers {
		if m.re.MatchString(text) {
			return m.key
		}
	}
	return ""
}

// Text returns the spoken text of a response key.
func (r *ResponseSet) Text(key string) string {
	return responseTexts[key]
}

// Has reports whether a key is a known response.
func (r *ResponseSet) Has(key string) bool {
	_, ok := responseTexts[key]
	return ok
}

// Sound returns the cached sound reference for a key.
func (r *ResponseSet) Sound(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sound, ok := r.sounds[key]
	return sound, ok
}

// Terminal reports whether a matched response ends the call.
func (r *ResponseSet) Terminal(key string) bool {
	return key == keyDeclineFarewell
}
