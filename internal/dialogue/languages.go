// ABOUTME: Language table mapping language codes to dialogue engine instances
// ABOUTME: Unknown or empty codes fall back to the default language

package dialogue

import (
	"strings"

	"github.com/2389/parley/internal/config"
)

// Language is one dialogue engine instance
type Language struct {
	Code       string
	Title      string
	Port       int
	ActionPort int
}

// Languages is the ordered table of supported languages
type Languages struct {
	entries []Language
	def     string
}

// NewLanguages builds a table from configuration. defaultCode must be present.
func NewLanguages(entries []config.LanguageConfig, defaultCode string) *Languages {
	l := &Languages{def: strings.ToUpper(defaultCode)}
	for _, e := range entries {
		l.entries = append(l.entries, Language{
			Code:       strings.ToUpper(e.Code),
			Title:      e.Title,
			Port:       e.Port,
			ActionPort: e.ActionPort,
		})
	}
	return l
}

// All returns the languages in configured order
func (l *Languages) All() []Language {
	return append([]Language(nil), l.entries...)
}

// Default returns the default language
func (l *Languages) Default() Language {
	lang, _ := l.find(l.def)
	return lang
}

// Lookup returns the language for code, or the default when unknown
func (l *Languages) Lookup(code string) Language {
	if lang, ok := l.find(code); ok {
		return lang
	}
	return l.Default()
}

// Known reports whether code is in the table
func (l *Languages) Known(code string) bool {
	_, ok := l.find(code)
	return ok
}

func (l *Languages) find(code string) (Language, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, e := range l.entries {
		if e.Code == code {
			return e, true
		}
	}
	return Language{}, false
}
