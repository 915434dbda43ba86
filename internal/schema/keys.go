package schema

import "strings"

// VisitMetadataKeys are synthesized from each visit group's own attributes.
var VisitMetadataKeys = []string{"visit_date", "admission_date", "discharge_date", "reason_for_visit"}

// CanonicalVisitScopedKeys is the default visit field order. Visit-scoped
// keys outside this list are discovered from the data.
var CanonicalVisitScopedKeys = []string{
	"visit_date",
	"admission_date",
	"discharge_date",
	"reason_for_visit",
	"symptoms",
	"diagnosis",
	"procedure",
	"medication",
	"treatment_plan",
	"lab_result",
	"imaging",
	"vaccination",
}

var (
	criticalKeys       = toSet("pet_name", "species", "sex", "microchip_id", "visit_date", "diagnosis", "owner_name")
	billingKeys        = toSet("invoice_total", "invoice_number", "covered_amount", "non_covered_amount", "line_item", "payment_method")
	legacyHiddenKeys   = toSet("document_date", "claim_id", "imagen_anexa")
	canonicalVisitKeys = toSet(CanonicalVisitScopedKeys...)
)

func toSet(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[strings.TrimSpace(key)]
	return ok
}

// IsCriticalKey reports membership in the static critical field set.
func IsCriticalKey(key string) bool { return has(criticalKeys, key) }

// IsBillingKey reports whether key is a billing concept.
func IsBillingKey(key string) bool { return has(billingKeys, key) }

// IsLegacyHiddenKey reports whether key is hidden from legacy documents.
func IsLegacyHiddenKey(key string) bool { return has(legacyHiddenKeys, key) }

// IsCanonicalVisitScopedKey reports whether key is a known visit concept.
func IsCanonicalVisitScopedKey(key string) bool { return has(canonicalVisitKeys, key) }
