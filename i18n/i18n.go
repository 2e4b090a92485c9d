// Package i18n translates docweave's own user-facing strings.
//
// Catalogs are gettext .po files embedded from locales/ and loaded once by
// Init. Until Init runs, or when no catalog matches the user's language,
// T and N return their arguments unchanged.
//
//	i18n.Init("")  // LANGUAGE > LC_ALL > LC_MESSAGES > LANG
//	fmt.Println(i18n.T("Summary"))
//	fmt.Printf(i18n.N("%d chunk", "%d chunks", n), n)
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Layout: locales/{lang}/LC_MESSAGES/docweave.po
//
//go:embed all:locales
var locales embed.FS

const domain = "docweave"

var po *gotext.Locale

// Init loads the catalog for lang, or for the environment's language when
// lang is empty. It must be called before any T or N call that should be
// translated.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}
	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T translates msgid.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a message with plural forms chosen by n.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage follows GNU gettext precedence. "C" and "POSIX" mean no
// translation and are skipped.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			// Colon-separated preference list.
			val, _, _ = strings.Cut(val, ":")
		}
		if lang := localeName(val); lang != "" {
			return lang
		}
	}
	return "en"
}

// localeName strips the encoding and modifier from a POSIX locale,
// e.g. "ru_RU.UTF-8@euro" -> "ru_RU".
func localeName(val string) string {
	if i := strings.IndexAny(val, ".@"); i >= 0 {
		val = val[:i]
	}
	if val == "C" || val == "POSIX" {
		return ""
	}
	return val
}
