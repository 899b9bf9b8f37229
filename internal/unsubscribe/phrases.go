package unsubscribe

import (
	"regexp"
	"strings"
)

// Phrase is one entry of a multilingual matching table.
type Phrase struct {
	Language string
	Text     string
}

// SuccessPhrases mark a page that reports the address as already removed.
// They match anywhere in the page text, case-insensitively.
var SuccessPhrases = []Phrase{
	{"en", "successfully unsubscribed"},
	{"en", "you have been unsubscribed"},
	{"en", "you are now unsubscribed"},
	{"en", "you've been unsubscribed"},
	{"en", "unsubscribe successful"},
	{"en", "already unsubscribed"},
	{"en", "removed from"},
	{"en", "opted out"},
	{"en", "no longer receive"},
	{"de", "erfolgreich abgemeldet"},
	{"de", "abmeldung erfolgreich"},
	{"de", "erfolgreich ausgetragen"},
	{"de", "wurden abgemeldet"},
	{"de", "bereits abgemeldet"},
	{"de", "keine e-mails mehr"},
	{"fr", "désabonné"},
	{"fr", "désinscrit"},
	{"fr", "désinscription réussie"},
	{"fr", "désabonnement confirmé"},
	{"es", "dado de baja"},
	{"es", "baja confirmada"},
	{"es", "suscripción cancelada"},
	{"es", "ya no recibirás"},
}

// ConfirmKeywords mark a link text that asks the reader to finish unsubscribing.
// They match whole words only.
var ConfirmKeywords = []Phrase{
	{"en", "confirm"},
	{"en", "unsubscribe"},
	{"en", "opt out"},
	{"en", "yes"},
	{"de", "abmelden"},
	{"de", "bestätigen"},
	{"de", "austragen"},
	{"de", "ja"},
	{"fr", "confirmer"},
	{"fr", "se désabonner"},
	{"fr", "désinscrire"},
	{"fr", "oui"},
	{"es", "confirmar"},
	{"es", "darse de baja"},
	{"es", "cancelar suscripción"},
	{"es", "sí"},
}

var (
	successPattern = regexp.MustCompile(`(?i)(?:` + alternation(SuccessPhrases) + `)`)
	confirmPattern = regexp.MustCompile(`(?i)(?:^|\P{L})(?:` + alternation(ConfirmKeywords) + `)(?:\P{L}|$)`)
)

// ContainsSuccessPhrase reports whether text contains any success phrase.
func ContainsSuccessPhrase(text string) bool {
	return successPattern.MatchString(text)
}

// MatchesConfirmKeyword reports whether text contains a confirmation keyword as a whole word.
func MatchesConfirmKeyword(text string) bool {
	return confirmPattern.MatchString(text)
}

// ConfirmAlternation is the keyword alternation without flags or anchors,
// usable by other regex engines such as the browser's.
func ConfirmAlternation() string {
	return alternation(ConfirmKeywords)
}

func alternation(phrases []Phrase) string {
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		parts = append(parts, regexp.QuoteMeta(p.Text))
	}
	return strings.Join(parts, "|")
}
