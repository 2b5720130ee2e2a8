// Package euid defines the Entity Unique Identifier grammar.
//
// An EUID has the shape
//
//	[AccessLevelCode?][TypeCode][Jurisdiction?][5-digit sequence]([-related])*[StatusSuffix?]
//
// where the status suffix is empty for active identifiers, "H" for historical
// and "R" for retired ones. Everything in this package is pure: no I/O, no
// clocks, no shared mutable state.
package euid

import "strings"

// EntityType names the kind of entity an identifier belongs to.
type EntityType string

const (
	TypeBatch           EntityType = "BATCH"
	TypeCompany         EntityType = "COMPANY"
	TypeDocument        EntityType = "DOCUMENT"
	TypeEvent           EntityType = "EVENT"
	TypeFacility        EntityType = "FACILITY"
	TypeGovernment      EntityType = "GOVERNMENT"
	TypeIndividual      EntityType = "INDIVIDUAL"
	TypeLocation        EntityType = "LOCATION"
	TypeMessage         EntityType = "MESSAGE"
	TypeTask            EntityType = "TASK"
	TypeWorkflow        EntityType = "WORKFLOW"
	TypePublicServant   EntityType = "PUBLIC_SERVANT"
	TypeElectedOfficial EntityType = "ELECTED_OFFICIAL"
	TypeQuasiGovernment EntityType = "QUASI_GOVERNMENT"
	TypeAIAgent         EntityType = "AI_AGENT"
	TypeAPIClient       EntityType = "API_CLIENT"
	TypeDoeOrganization EntityType = "DOE_ORGANIZATION"
	TypeDoeIndividual   EntityType = "DOE_INDIVIDUAL"
)

// Code constants used outside the grammar itself.
const (
	CodeGovernment      = "G"
	CodeDoeOrganization = "JAD"
	CodeDoeIndividual   = "JOD"
)

var staticCodes = map[string]EntityType{
	"B":            TypeBatch,
	"C":            TypeCompany,
	"D":            TypeDocument,
	"E":            TypeEvent,
	"F":            TypeFacility,
	CodeGovernment: TypeGovernment,
	"I":            TypeIndividual,
	"L":            TypeLocation,
	"M":            TypeMessage,
	"T":            TypeTask,
	"W":            TypeWorkflow,

	"PS":                TypePublicServant,
	"EO":                TypeElectedOfficial,
	"QG":                TypeQuasiGovernment,
	"AI":                TypeAIAgent,
	"API":               TypeAPIClient,
	CodeDoeOrganization: TypeDoeOrganization,
	CodeDoeIndividual:   TypeDoeIndividual,
}

var reservedCodes = map[string]struct{}{
	"Y": {},
	"Z": {},
}

var typeNames = map[EntityType]string{
	TypeBatch:           "Batch",
	TypeCompany:         "Company",
	TypeDocument:        "Document",
	TypeEvent:           "Event",
	TypeFacility:        "Facility",
	TypeGovernment:      "Government",
	TypeIndividual:      "Individual",
	TypeLocation:        "Location",
	TypeMessage:         "Message",
	TypeTask:            "Task",
	TypeWorkflow:        "Workflow",
	TypePublicServant:   "Public Servant",
	TypeElectedOfficial: "Elected Official",
	TypeQuasiGovernment: "Quasi-Government Body",
	TypeAIAgent:         "AI Agent",
	TypeAPIClient:       "API Client",
	TypeDoeOrganization: "Unidentified Organization",
	TypeDoeIndividual:   "Unidentified Individual",
}

// StaticCodes returns a copy of the built-in code table.
func StaticCodes() map[string]EntityType {
	out := make(map[string]EntityType, len(staticCodes))
	for code, t := range staticCodes {
		out[code] = t
	}
	return out
}

// IsStaticCode reports whether code belongs to the built-in table or is reserved.
func IsStaticCode(code string) bool {
	if _, ok := staticCodes[code]; ok {
		return true
	}
	_, ok := reservedCodes[code]
	return ok
}

// CodeFor returns the built-in code for t.
func CodeFor(t EntityType) (string, bool) {
	for code, candidate := range staticCodes {
		if candidate == t {
			return code, true
		}
	}
	return "", false
}

// HumanName renders t for display. Unknown (custom) types are title-cased.
func (t EntityType) HumanName() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	words := strings.Split(strings.ToLower(string(t)), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// IsOrganizationLike reports whether t names an organization rather than a person.
func (t EntityType) IsOrganizationLike() bool {
	switch t {
	case TypeCompany, TypeGovernment, TypeQuasiGovernment, TypeFacility, TypeDoeOrganization:
		return true
	}
	return false
}

// Status is the lifecycle state encoded in the identifier suffix.
type Status string

const (
	StatusActive     Status = "active"
	StatusHistorical Status = "historical"
	StatusRetired    Status = "retired"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusHistorical, StatusRetired:
		return true
	}
	return false
}

// Suffix returns the character appended to the identifier for s.
func (s Status) Suffix() string {
	switch s {
	case StatusHistorical:
		return "H"
	case StatusRetired:
		return "R"
	}
	return ""
}

func statusFromSuffix(suffix byte) (Status, bool) {
	switch suffix {
	case 'H':
		return StatusHistorical, true
	case 'R':
		return StatusRetired, true
	}
	return StatusActive, false
}

// AccessLevel is the optional single-letter prefix restricting who may see an entity.
type AccessLevel string

const (
	AccessPublic       AccessLevel = ""
	AccessInternal     AccessLevel = "INTERNAL"
	AccessConfidential AccessLevel = "CONFIDENTIAL"
	AccessRestricted   AccessLevel = "RESTRICTED"
	AccessSecret       AccessLevel = "SECRET"
)

var accessCodes = map[AccessLevel]string{
	AccessInternal:     "N",
	AccessConfidential: "K",
	AccessRestricted:   "X",
	AccessSecret:       "S",
}

// Code returns the prefix letter, empty for public identifiers.
func (a AccessLevel) Code() string {
	return accessCodes[a]
}

// Valid reports whether a is a known access level.
func (a AccessLevel) Valid() bool {
	if a == AccessPublic {
		return true
	}
	_, ok := accessCodes[a]
	return ok
}

// AccessLevelFromCode maps a prefix letter back to its access level.
func AccessLevelFromCode(code string) (AccessLevel, bool) {
	for level, c := range accessCodes {
		if c == code {
			return level, true
		}
	}
	return AccessPublic, false
}

func isAccessCode(b byte) bool {
	_, ok := AccessLevelFromCode(string(b))
	return ok
}
