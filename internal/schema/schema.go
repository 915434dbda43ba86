// Package schema holds the fixed clinical schema tables: UI sections, the
// legacy field schema, display labels and the static key sets.
package schema

import (
	_ "embed"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/record-review/internal/model"
)

//go:embed schema.yaml
var schemaYAML []byte

// Section ids with fixed meaning.
const (
	SectionClinic     = "clinic"
	SectionPatient    = "patient"
	SectionOwner      = "owner"
	SectionVisits     = "visits"
	SectionNotes      = "notes"
	SectionOther      = "other"
	SectionReportInfo = "report_info"
)

// customSectionOrder places sections known only by their raw name between
// the fixed clinical sections and the "other" section.
const customSectionOrder = 60

// SectionDef is one UI section.
type SectionDef struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Order int    `yaml:"order"`
}

// Schema is the parsed schema table set.
type Schema struct {
	Sections       []SectionDef       `yaml:"sections"`
	LegacyFields   []model.SchemaSlot `yaml:"legacy_fields"`
	Labels         map[string]string  `yaml:"labels"`
	SectionAliases map[string]string  `yaml:"section_aliases"`

	sectionsByID map[string]SectionDef
	aliases      map[string]string
	legacy       *model.SlotRegistry
}

// Parse decodes schema tables from YAML and builds the lookup indices.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "schema: parse tables")
	}
	if len(s.Sections) == 0 {
		return nil, eris.New("schema: no sections defined")
	}

	s.sectionsByID = make(map[string]SectionDef, len(s.Sections))
	for _, sec := range s.Sections {
		if sec.ID == "" {
			return nil, eris.New("schema: section without id")
		}
		s.sectionsByID[sec.ID] = sec
	}
	sort.SliceStable(s.Sections, func(i, j int) bool { return s.Sections[i].Order < s.Sections[j].Order })

	for i := range s.LegacyFields {
		f := &s.LegacyFields[i]
		if f.Key == "" {
			return nil, eris.Errorf("schema: legacy field %d without key", i)
		}
		if _, ok := s.sectionsByID[f.Section]; !ok {
			return nil, eris.Errorf("schema: legacy field %s has unknown section %q", f.Key, f.Section)
		}
		if f.Order == 0 {
			f.Order = i + 1
		}
	}
	s.legacy = model.NewSlotRegistry(s.LegacyFields)

	s.aliases = make(map[string]string, len(s.SectionAliases))
	for name, id := range s.SectionAliases {
		s.aliases[Fold(name)] = id
	}
	return &s, nil
}

var loadDefault = sync.OnceValues(func() (*Schema, error) {
	return Parse(schemaYAML)
})

// Load returns the embedded schema tables. The result is shared and must not
// be modified.
func Load() (*Schema, error) {
	return loadDefault()
}

// MustLoad is Load for callers that cannot proceed without the tables.
func MustLoad() *Schema {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// Legacy returns the fixed legacy schema registry.
func (s *Schema) Legacy() *model.SlotRegistry {
	return s.legacy
}

// Section returns a section by id.
func (s *Schema) Section(id string) (SectionDef, bool) {
	sec, ok := s.sectionsByID[id]
	return sec, ok
}

// OtherSection returns the section holding unmapped fields.
func (s *Schema) OtherSection() SectionDef {
	return s.sectionsByID[SectionOther]
}

// ResolveSection maps a field's declared section to a UI section. Resolution
// order: section id table, key overrides, legacy free-text names, then the
// raw declared string. A field with no usable section lands in report_info.
func (s *Schema) ResolveSection(key, declared string) SectionDef {
	declared = strings.TrimSpace(declared)
	if sec, ok := s.sectionsByID[strings.ToLower(declared)]; ok {
		return sec
	}
	if id, ok := SectionOverride(key); ok {
		return s.sectionsByID[id]
	}
	if declared != "" {
		if id, ok := s.aliases[Fold(declared)]; ok {
			if sec, ok := s.sectionsByID[id]; ok {
				return sec
			}
		}
		return SectionDef{ID: declared, Label: declared, Order: customSectionOrder}
	}
	return s.sectionsByID[SectionReportInfo]
}

// SectionOverride returns the section a key belongs to regardless of what
// the extractor declared.
func SectionOverride(key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	switch {
	case key == "notes":
		return SectionNotes, true
	case key == "language":
		return SectionReportInfo, true
	case strings.HasPrefix(key, "owner_"):
		return SectionOwner, true
	case key == "nhc" || key == "medical_record_number":
		return SectionClinic, true
	}
	return "", false
}

// Label returns the display label for a key.
func (s *Schema) Label(key string) string {
	if l, ok := s.Labels[strings.TrimSpace(key)]; ok && l != "" {
		return l
	}
	return Humanize(key)
}

// Humanize turns a snake_case key into a sentence-case label.
func Humanize(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	if len(words) == 0 {
		return strings.TrimSpace(key)
	}
	for i := range words {
		words[i] = strings.ToLower(words[i])
	}
	words[0] = cases.Title(language.Spanish).String(words[0])
	return strings.Join(words, " ")
}

// Fold lower-cases s and strips diacritics so that "Clínica" matches
// "clinica".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
