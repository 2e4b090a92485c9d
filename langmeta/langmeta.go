// Package langmeta maps language codes to the English and native names used
// in translation instructions and CLI output.
package langmeta

import "strings"

// Meta describes language display metadata.
type Meta struct {
	// Name is the English name, used inside model instructions.
	Name string
	// Native is the self-name of the language, used in CLI output.
	Native string
}

// Registry contains canonical language metadata.
// Locale variants are resolved in Resolve() via normalization and base fallback.
var Registry = map[string]Meta{
	"ar":    {Name: "Arabic", Native: "العربية"},
	"be":    {Name: "Belarusian", Native: "Беларуская"},
	"bg":    {Name: "Bulgarian", Native: "Български"},
	"cs":    {Name: "Czech", Native: "Čeština"},
	"da":    {Name: "Danish", Native: "Dansk"},
	"de":    {Name: "German", Native: "Deutsch"},
	"el":    {Name: "Greek", Native: "Ελληνικά"},
	"en":    {Name: "English", Native: "English"},
	"en-GB": {Name: "British English", Native: "English (UK)"},
	"en-US": {Name: "American English", Native: "English (US)"},
	"es":    {Name: "Spanish", Native: "Español"},
	"es-MX": {Name: "Mexican Spanish", Native: "Español (México)"},
	"fi":    {Name: "Finnish", Native: "Suomi"},
	"fr":    {Name: "French", Native: "Français"},
	"he":    {Name: "Hebrew", Native: "עברית"},
	"hi":    {Name: "Hindi", Native: "हिन्दी"},
	"hu":    {Name: "Hungarian", Native: "Magyar"},
	"id":    {Name: "Indonesian", Native: "Bahasa Indonesia"},
	"it":    {Name: "Italian", Native: "Italiano"},
	"ja":    {Name: "Japanese", Native: "日本語"},
	"kk":    {Name: "Kazakh", Native: "Қазақ тілі"},
	"ko":    {Name: "Korean", Native: "한국어"},
	"nl":    {Name: "Dutch", Native: "Nederlands"},
	"no":    {Name: "Norwegian", Native: "Norsk"},
	"pl":    {Name: "Polish", Native: "Polski"},
	"pt":    {Name: "Portuguese", Native: "Português"},
	"pt-BR": {Name: "Brazilian Portuguese", Native: "Português (Brasil)"},
	"ro":    {Name: "Romanian", Native: "Română"},
	"ru":    {Name: "Russian", Native: "Русский"},
	"sk":    {Name: "Slovak", Native: "Slovenčina"},
	"sr":    {Name: "Serbian", Native: "Српски"},
	"sv":    {Name: "Swedish", Native: "Svenska"},
	"tr":    {Name: "Turkish", Native: "Türkçe"},
	"uk":    {Name: "Ukrainian", Native: "Українська"},
	"vi":    {Name: "Vietnamese", Native: "Tiếng Việt"},
	"zh":    {Name: "Chinese", Native: "中文"},
	"zh-CN": {Name: "Simplified Chinese", Native: "简体中文"},
	"zh-TW": {Name: "Traditional Chinese", Native: "繁體中文"},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like pt_BR, pt-BR, and locale fallbacks.
// Unknown codes resolve to the code itself.
func Resolve(lang string) Meta {
	if m, ok := Registry[lang]; ok {
		return m
	}
	normalized := canonicalize(lang)
	if m, ok := Registry[normalized]; ok {
		return m
	}
	if parts := strings.SplitN(normalized, "-", 2); len(parts) == 2 {
		if m, ok := Registry[parts[0]]; ok {
			return m
		}
	}
	return Meta{Name: lang, Native: lang}
}

// Known reports whether lang (or its base language) is in the registry.
func Known(lang string) bool {
	m := Resolve(lang)
	return m.Name != lang || Registry[lang].Name != ""
}
