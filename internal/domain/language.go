package domain

import "strings"

// Well-known language codes.
const (
	LangAuto     = "auto"
	LangEnglish  = "en"
	LangChinese  = "zh-Hans"
	LangJapanese = "ja"
	LangKorean   = "ko"
	LangUnknown  = "un"
)

// languageAliases collapses region variants and common misspellings onto the
// codes used by the model records.
var languageAliases = map[string]string{
	"zh":      "zh-Hans",
	"zh-cn":   "zh-Hans",
	"zh-sg":   "zh-Hans",
	"zh-hans": "zh-Hans",
	"cmn":     "zh-Hans",
	"chinese": "zh-Hans",
	"zh-tw":   "zh-Hant",
	"zh-hk":   "zh-Hant",
	"zh-mo":   "zh-Hant",
	"zh-hant": "zh-Hant",
	"cht":     "zh-Hant",
	"en-us":   "en",
	"en-gb":   "en",
	"en-au":   "en",
	"en-ca":   "en",
	"en-nz":   "en",
	"en-ie":   "en",
	"en-za":   "en",
	"en-jm":   "en",
	"en-bz":   "en",
	"en-tt":   "en",
	"fr-fr":   "fr",
	"fr-ca":   "fr",
	"fr-be":   "fr",
	"fr-ch":   "fr",
	"es-es":   "es",
	"es-mx":   "es",
	"es-ar":   "es",
	"es-co":   "es",
	"es-cl":   "es",
	"es-pe":   "es",
	"es-ve":   "es",
	"pt-pt":   "pt",
	"pt-br":   "pt",
	"de-de":   "de",
	"de-at":   "de",
	"de-ch":   "de",
	"it-it":   "it",
	"it-ch":   "it",
	"ja-jp":   "ja",
	"jp":      "ja",
	"ko-kr":   "ko",
	"kr":      "ko",
	"ru-ru":   "ru",
	"nb":      "no",
}

// NormalizeLanguage canonicalizes a caller-supplied language code.
// Matching is case-insensitive and accepts "_" as a separator.
// Unknown region variants fall back to their base language.
func NormalizeLanguage(code string) string {
	if code == "" {
		return ""
	}
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	if normalized == LangAuto {
		return LangAuto
	}
	if alias, ok := languageAliases[normalized]; ok {
		return alias
	}
	main, _, _ := strings.Cut(normalized, "-")
	if alias, ok := languageAliases[main]; ok {
		return alias
	}
	return main
}

// IsCJK reports whether code names a Chinese, Japanese or Korean language.
func IsCJK(code string) bool {
	lower := strings.ToLower(code)
	return strings.HasPrefix(lower, "zh") || strings.HasPrefix(lower, "ja") || strings.HasPrefix(lower, "ko")
}

// IsChinese reports whether code names any Chinese variant.
func IsChinese(code string) bool {
	return strings.HasPrefix(strings.ToLower(code), "zh")
}

// NormalizeDetected maps a classifier code onto record codes.
func NormalizeDetected(code string) string {
	if code == "zh" {
		return LangChinese
	}
	return strings.ToLower(code)
}
