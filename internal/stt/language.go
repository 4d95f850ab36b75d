package stt

import "strings"

// Some backends report the language by English name ("japanese") rather
// than by code. Unknown names pass through unchanged.
var languageNames = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"dutch":      "nl",
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"hindi":      "hi",
	"indonesian": "id",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"polish":     "pl",
	"portuguese": "pt",
	"russian":    "ru",
	"spanish":    "es",
	"swedish":    "sv",
	"thai":       "th",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"vietnamese": "vi",
}

func languageCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lang]; ok {
		return code
	}
	return lang
}
