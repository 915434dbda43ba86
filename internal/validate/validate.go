// Package validate parses and canonicalizes raw extracted values per field type.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Reason is a rejection code.
type Reason string

const (
	ReasonEmpty          Reason = "empty"
	ReasonNonDigit       Reason = "non-digit"
	ReasonInvalidLength  Reason = "invalid-length"
	ReasonInvalidWeight  Reason = "invalid-weight"
	ReasonInvalidDate    Reason = "invalid-date"
	ReasonInvalidSex     Reason = "invalid-sex"
	ReasonInvalidSpecies Reason = "invalid-species"
	ReasonInvalidAge     Reason = "invalid-age"
)

// Kind is the validation rule family applied to a field key.
type Kind string

const (
	KindMicrochip   Kind = "microchip"
	KindWeight      Kind = "weight"
	KindDate        Kind = "date"
	KindSex         Kind = "sex"
	KindSpecies     Kind = "species"
	KindAge         Kind = "age"
	KindPassthrough Kind = "passthrough"
)

// kindByKey maps field keys to their validation rule family. Keys not listed
// are free text.
var kindByKey = map[string]Kind{
	"microchip_id":   KindMicrochip,
	"microchip":      KindMicrochip,
	"weight":         KindWeight,
	"dob":            KindDate,
	"date_of_birth":  KindDate,
	"visit_date":     KindDate,
	"admission_date": KindDate,
	"discharge_date": KindDate,
	"document_date":  KindDate,
	"sex":            KindSex,
	"species":        KindSpecies,
	"age":            KindAge,
}

// KindFor returns the rule family for a field key.
func KindFor(key string) Kind {
	if k, ok := kindByKey[strings.TrimSpace(key)]; ok {
		return k
	}
	return KindPassthrough
}

// Result is the outcome of validating one raw value.
type Result struct {
	OK         bool   `json:"ok"`
	Normalized string `json:"normalized,omitempty"`
	Reason     Reason `json:"reason,omitempty"`
}

func accept(v string) Result { return Result{OK: true, Normalized: v} }
func reject(r Reason) Result { return Result{Reason: r} }

// Validate checks a raw value against the rules for its field key and returns
// the canonical form. It is pure and idempotent on its own output.
func Validate(fieldKey, rawValue string) Result {
	value := strings.TrimSpace(rawValue)
	if value == "" {
		return reject(ReasonEmpty)
	}

	switch KindFor(fieldKey) {
	case KindMicrochip:
		return microchip(value)
	case KindWeight:
		return weight(value)
	case KindDate:
		return date(value)
	case KindSex:
		return sex(value)
	case KindSpecies:
		return species(value)
	case KindAge:
		return age(value)
	default:
		return accept(value)
	}
}

var leadingDigitsWithNoise = regexp.MustCompile(`^(\d+)\D.*$`)

func microchip(value string) Result {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, value)

	if m := leadingDigitsWithNoise.FindStringSubmatch(compact); m != nil {
		compact = m[1]
	}
	for _, r := range compact {
		if r < '0' || r > '9' {
			return reject(ReasonNonDigit)
		}
	}
	if n := len(compact); n < 9 || n > 15 {
		return reject(ReasonInvalidLength)
	}
	return accept(compact)
}

const (
	minWeightKg = 0.5
	maxWeightKg = 120.0
)

var weightPattern = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)\s*(?:kgs?)?$`)

func weight(value string) Result {
	m := weightPattern.FindStringSubmatch(value)
	if m == nil {
		return reject(ReasonInvalidWeight)
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || n == 0 || n < minWeightKg || n > maxWeightKg {
		return reject(ReasonInvalidWeight)
	}
	return accept(strconv.FormatFloat(n, 'f', -1, 64) + " kg")
}

var (
	isoDate = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	dmyDate = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})$`)
	ymdDate = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
)

// twoDigitYearPivot splits two-digit years: below it they land in the 2000s,
// at or above it in the 1900s.
const twoDigitYearPivot = 70

func date(value string) Result {
	var y, m, d int
	switch {
	case isoDate.MatchString(value):
		p := isoDate.FindStringSubmatch(value)
		y, m, d = atoi(p[1]), atoi(p[2]), atoi(p[3])
	case dmyDate.MatchString(value):
		p := dmyDate.FindStringSubmatch(value)
		d, m, y = atoi(p[1]), atoi(p[2]), atoi(p[3])
		if len(p[3]) == 2 {
			if y < twoDigitYearPivot {
				y += 2000
			} else {
				y += 1900
			}
		}
	case ymdDate.MatchString(value):
		p := ymdDate.FindStringSubmatch(value)
		y, m, d = atoi(p[1]), atoi(p[2]), atoi(p[3])
	default:
		return reject(ReasonInvalidDate)
	}

	if !calendarDate(y, m, d) {
		return reject(ReasonInvalidDate)
	}
	return accept(fmt.Sprintf("%04d-%02d-%02d", y, m, d))
}

// calendarDate round-trips through time.Date; an overflowed day or month
// (Feb 30, Apr 31) comes back different.
func calendarDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Year() == y && int(t.Month()) == m && t.Day() == d
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var sexValues = map[string]string{
	"hembra": "hembra",
	"female": "hembra",
	"macho":  "macho",
	"male":   "macho",
}

func sex(value string) Result {
	if v, ok := sexValues[strings.ToLower(value)]; ok {
		return accept(v)
	}
	return reject(ReasonInvalidSex)
}

var speciesValues = map[string]string{
	"canino": "canino",
	"canina": "canino",
	"perro":  "canino",
	"perra":  "canino",
	"felino": "felino",
	"felina": "felino",
	"gato":   "felino",
	"gata":   "felino",
}

func species(value string) Result {
	if v, ok := speciesValues[strings.ToLower(value)]; ok {
		return accept(v)
	}
	return reject(ReasonInvalidSpecies)
}

var agePattern = regexp.MustCompile(`^\d{1,3}$`)

func age(value string) Result {
	if !agePattern.MatchString(value) {
		return reject(ReasonInvalidAge)
	}
	return accept(value)
}
