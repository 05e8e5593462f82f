package catalog

import (
	"strings"
	"unicode"

	"github.com/biter777/countries"
)

// countryNicknames covers common spellings the ISO tables do not carry.
// Keys are squashed (upper-case, letters only).
var countryNicknames = map[string]string{
	"UK":                    "GB",
	"GREATBRITAIN":          "GB",
	"ENGLAND":               "GB",
	"SCOTLAND":              "GB",
	"WALES":                 "GB",
	"NORTHERNIRELAND":       "GB",
	"AMERICA":               "US",
	"UNITEDSTATES":          "US",
	"UNITEDSTATESOFAMERICA": "US",
	"UNITEDKINGDOM":         "GB",
	"HOLLAND":               "NL",
	"THENETHERLANDS":        "NL",
	"DEUTSCHLAND":           "DE",
	"ESPANA":                "ES",
	"ESPAÑA":                "ES",
	"ITALIA":                "IT",
}

// NormalizeCountry returns the ISO-2 code for a country given as an ISO-2 or
// ISO-3 code, an English name or a punctuated abbreviation ("U.S.A.").
// Matching ignores case, whitespace and punctuation. Unknown input yields fallback.
func NormalizeCountry(input, fallback string) string {
	key := squash(input)
	if key == "" {
		return fallback
	}
	if code, ok := countryNicknames[key]; ok {
		return code
	}

	if code := lookupCountry(key); code != "" {
		return code
	}
	// Multi-word names are also tried as written
	if code := lookupCountry(strings.TrimSpace(input)); code != "" {
		return code
	}
	return fallback
}

func lookupCountry(name string) string {
	code := countries.ByName(name)
	if code == countries.Unknown {
		return ""
	}
	return code.Alpha2()
}

func squash(input string) string {
	var b strings.Builder
	for _, r := range input {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
