package service

import (
	"fmt"
	"strings"
	"time"

	"resavoice/internal/db"
)

type phrase int

const (
	phraseGreeting phrase = iota
	phraseWait
	phraseGoodbye
	phraseRepeat
	phraseUnknownRestaurant
	phraseUnknownSession
	phraseNoAvailability
	phraseAlternatives
	phraseError
)

var phrases = map[db.Language]map[phrase]string{
	db.LanguageFR: {
		phraseGreeting:          "Bonjour, c'est le restaurant. Comment puis-je vous aider ?",
		phraseWait:              "Un instant, s'il vous plaît.",
		phraseGoodbye:           "Merci de votre appel. Au revoir.",
		phraseRepeat:            "Désolé, une erreur est survenue. Pouvez-vous répéter ?",
		phraseUnknownRestaurant: "Désolé, ce restaurant est introuvable.",
		phraseUnknownSession:    "Désolé, votre appel est introuvable.",
		phraseNoAvailability:    "Désolé, nous n'avons plus de table disponible à cette heure-là.",
		phraseAlternatives:      "Désolé, cette heure n'est plus disponible. Je peux vous proposer %s. Laquelle vous convient ?",
		phraseError:             "Désolé, une erreur est survenue.",
	},
	db.LanguageEN: {
		phraseGreeting:          "Hello, this is the restaurant. How can I help you?",
		phraseWait:              "One moment please.",
		phraseGoodbye:           "Thank you for calling. Goodbye.",
		phraseRepeat:            "Sorry, an error occurred. Could you repeat?",
		phraseUnknownRestaurant: "Sorry, restaurant not found.",
		phraseUnknownSession:    "Sorry, we could not find your call.",
		phraseNoAvailability:    "Sorry, we have no table available at that time.",
		phraseAlternatives:      "Sorry, that time is no longer available. I can offer %s. Which one suits you?",
		phraseError:             "Sorry, an error occurred.",
	},
}

// text returns the phrase in lang, falling back to French for an undetected language.
func text(lang db.Language, p phrase) string {
	if !lang.Known() {
		lang = db.LanguageFR
	}
	return phrases[lang][p]
}

// unavailableText tells the caller the requested time is gone and lists the alternatives.
func unavailableText(lang db.Language, alternatives []time.Time, loc *time.Location) string {
	if len(alternatives) == 0 {
		return text(lang, phraseNoAvailability)
	}
	if loc == nil {
		loc = time.UTC
	}
	times := make([]string, 0, len(alternatives))
	for _, a := range alternatives {
		times = append(times, a.In(loc).Format("15:04"))
	}
	sep, last := ", ", " or "
	if lang == db.LanguageFR || !lang.Known() {
		last = " ou "
	}
	joined := times[0]
	if len(times) > 1 {
		joined = strings.Join(times[:len(times)-1], sep) + last + times[len(times)-1]
	}
	return fmt.Sprintf(text(lang, phraseAlternatives), joined)
}

// SayLanguage is the locale tag the telephony voice speaks for lang.
func SayLanguage(lang db.Language) string {
	if lang == db.LanguageEN {
		return "en-US"
	}
	return "fr-FR"
}

func Greeting(lang db.Language) string          { return text(lang, phraseGreeting) }
func WaitMessage(lang db.Language) string       { return text(lang, phraseWait) }
func Goodbye(lang db.Language) string           { return text(lang, phraseGoodbye) }
func UnknownRestaurant(lang db.Language) string { return text(lang, phraseUnknownRestaurant) }
func UnknownSession(lang db.Language) string    { return text(lang, phraseUnknownSession) }
func ErrorMessage(lang db.Language) string      { return text(lang, phraseError) }
