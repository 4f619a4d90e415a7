// Package tiers defines the static tier catalog: tier names, their feature
// bundles and display metadata.
//
// The catalog is immutable. Callers receive copies of definitions so nothing
// outside this package can alter what a tier grants.
package tiers

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies a tier. Values are the canonical wire names persisted in
// tier records.
type Name string

const (
	Advanced Name = "ADVANCED"
	Pro      Name = "PRO"
)

// Default is the least privileged tier and the fallback for missing or
// unreadable state.
const Default = Advanced

// ErrNotFound is returned when a tier name is not in the catalog.
var ErrNotFound = errors.New("tier not found")

// ChatScope controls which chats a tier may create.
type ChatScope string

const (
	ChatScopeSubjectOnly ChatScope = "subject_only" // Only chats bound to an available subject
	ChatScopeAny         ChatScope = "any"          // Free-form chats
)

// Subjects offered by the content generator.
const (
	SubjectEssay              = "essay"
	SubjectEmail              = "email"
	SubjectSocialPost         = "social_post"
	SubjectBlogPost           = "blog_post"
	SubjectAdCopy             = "ad_copy"
	SubjectProductDescription = "product_description"
	SubjectSEO                = "seo"
	SubjectVideoScript        = "video_script"
)

// MessagingLimits bounds chat usage. Zero means unlimited.
type MessagingLimits struct {
	DailyMessages    int `json:"dailyMessages"`
	MaxMessageLength int `json:"maxMessageLength"`
}

// UIRestrictions are presentation flags consumed by UI collaborators.
type UIRestrictions struct {
	HideAdvancedSettings bool `json:"hideAdvancedSettings"`
	LockPremiumTemplates bool `json:"lockPremiumTemplates"`
	ShowUpgradeBanner    bool `json:"showUpgradeBanner"`
}

// Features is the entitlement bundle of a tier.
type Features struct {
	ChatCreation ChatScope       `json:"chatCreation"`
	Subjects     []string        `json:"subjects"`
	FileUpload   bool            `json:"fileUpload"`
	Messaging    MessagingLimits `json:"messaging"`
	UI           UIRestrictions  `json:"ui"`
}

// Definition describes a tier.
type Definition struct {
	Name        Name     `json:"name"`
	DisplayName string   `json:"displayName"`
	PriceCents  int64    `json:"priceCents"` // Monthly price; 0 for free tiers
	Badge       string   `json:"badge"`
	Features    Features `json:"features"`
}

var advancedSubjects = []string{
	SubjectEssay,
	SubjectEmail,
	SubjectSocialPost,
}

// proSubjects adds long-form and marketing content on top of advanced.
var proSubjects = appendSubjects(advancedSubjects,
	SubjectBlogPost,
	SubjectAdCopy,
	SubjectProductDescription,
	SubjectSEO,
	SubjectVideoScript,
)

// appendSubjects returns a new slice with extra subjects appended (no mutation).
func appendSubjects(base []string, extra ...string) []string {
	result := make([]string, len(base), len(base)+len(extra))
	copy(result, base)
	return append(result, extra...)
}

// catalog is ordered from least to most privileged.
var catalog = []Definition{
	{
		Name:        Advanced,
		DisplayName: "Advanced",
		PriceCents:  0,
		Badge:       "ADV",
		Features: Features{
			ChatCreation: ChatScopeSubjectOnly,
			Subjects:     advancedSubjects,
			FileUpload:   false,
			Messaging: MessagingLimits{
				DailyMessages:    30,
				MaxMessageLength: 2000,
			},
			UI: UIRestrictions{
				HideAdvancedSettings: true,
				LockPremiumTemplates: true,
				ShowUpgradeBanner:    true,
			},
		},
	},
	{
		Name:        Pro,
		DisplayName: "PRO",
		PriceCents:  1900,
		Badge:       "PRO",
		Features: Features{
			ChatCreation: ChatScopeAny,
			Subjects:     proSubjects,
			FileUpload:   true,
			Messaging:    MessagingLimits{},
			UI:           UIRestrictions{},
		},
	},
}

// Get returns the definition for name. Lookup is exact; use Parse for
// user-supplied input.
func Get(name Name) (Definition, error) {
	for _, def := range catalog {
		if def.Name == name {
			return def.clone(), nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, string(name))
}

// MustGet is Get for names known at compile time.
func MustGet(name Name) Definition {
	def, err := Get(name)
	if err != nil {
		panic(err)
	}
	return def
}

// IsValid reports whether name is a catalog tier.
func IsValid(name Name) bool {
	_, err := Get(name)
	return err == nil
}

// Parse resolves a case-insensitive tier name. Unknown names are rejected,
// never coerced to a default.
func Parse(raw string) (Name, error) {
	candidate := Name(strings.ToUpper(strings.TrimSpace(raw)))
	if !IsValid(candidate) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, raw)
	}
	return candidate, nil
}

// All returns every tier, least privileged first.
func All() []Definition {
	defs := make([]Definition, 0, len(catalog))
	for _, def := range catalog {
		defs = append(defs, def.clone())
	}
	return defs
}

// Names returns the catalog tier names in catalog order.
func Names() []Name {
	names := make([]Name, 0, len(catalog))
	for _, def := range catalog {
		names = append(names, def.Name)
	}
	return names
}

// DisplayName returns a human-readable name for the tier.
func DisplayName(name Name) string {
	def, err := Get(name)
	if err != nil {
		return string(name)
	}
	return def.DisplayName
}

func (d Definition) clone() Definition {
	d.Features.Subjects = append([]string(nil), d.Features.Subjects...)
	return d
}

// IsPro reports whether the definition is the Pro tier.
func (d Definition) IsPro() bool {
	return d.Name == Pro
}
