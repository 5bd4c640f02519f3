// Package i18n translates the few strings the server puts into client payloads.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	PrivateAppointment = "Private Appointment"
	UnknownActionType  = "Unknown action type %q"
	AccessDenied       = "You have insufficient privileges to view this calendar."
	ListFailed         = "Could not load the contents of this calendar."
	ErrorTitle         = "Error"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.Dutch,
	language.French,
}

var (
	cat     = catalog.NewBuilder(catalog.Fallback(language.English))
	matcher = language.NewMatcher(supported)
)

func init() {
	set := func(tag language.Tag, key, msg string) {
		// Only fails on malformed messages, which are fixed strings here.
		_ = cat.SetString(tag, key, msg)
	}
	for _, key := range []string{PrivateAppointment, UnknownActionType, AccessDenied, ListFailed, ErrorTitle} {
		set(language.English, key, key)
	}

	set(language.German, PrivateAppointment, "Privater Termin")
	set(language.German, UnknownActionType, "Unbekannter Aktionstyp %q")
	set(language.German, AccessDenied, "Sie haben keine ausreichenden Rechte, um diesen Kalender anzuzeigen.")
	set(language.German, ListFailed, "Der Inhalt dieses Kalenders konnte nicht geladen werden.")
	set(language.German, ErrorTitle, "Fehler")

	set(language.Dutch, PrivateAppointment, "Privé-afspraak")
	set(language.Dutch, UnknownActionType, "Onbekend actietype %q")
	set(language.Dutch, AccessDenied, "U heeft onvoldoende rechten om deze agenda te bekijken.")
	set(language.Dutch, ListFailed, "De inhoud van deze agenda kon niet worden geladen.")
	set(language.Dutch, ErrorTitle, "Fout")

	set(language.French, PrivateAppointment, "Rendez-vous privé")
	set(language.French, UnknownActionType, "Type d'action inconnu %q")
	set(language.French, AccessDenied, "Vous n'avez pas les droits suffisants pour afficher ce calendrier.")
	set(language.French, ListFailed, "Le contenu de ce calendrier n'a pas pu être chargé.")
	set(language.French, ErrorTitle, "Erreur")
}

// Translator renders message keys in one language.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for the best supported match of lang (a BCP 47
// tag or Accept-Language value). Unknown languages fall back to English.
func New(lang string) *Translator {
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	_, idx, _ := matcher.Match(tags...)
	tag := supported[idx]
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
	}
}

// Language returns the selected language.
func (t *Translator) Language() language.Tag {
	return t.tag
}

// T renders key with args.
func (t *Translator) T(key string, args ...any) string {
	return t.printer.Sprintf(key, args...)
}
