package tiers

import "strings"

// Feature flags checked by feature gating. Unknown flags are denied.
const (
	FeatureCustomChats       = "custom_chats"       // Free-form chat creation
	FeatureAllSubjects       = "all_subjects"       // Every content subject unlocked
	FeatureFileUpload        = "file_upload"        // Attach files to prompts
	FeatureUnlimitedMessages = "unlimited_messages" // No daily message cap
	FeatureLongMessages      = "long_messages"      // No message length cap
	FeatureAdvancedSettings  = "advanced_settings"  // Model and tone settings panel
	FeaturePremiumTemplates  = "premium_templates"  // Premium template gallery

	// SubjectFeaturePrefix gates a single subject, e.g. "subject:seo".
	SubjectFeaturePrefix = "subject:"
)

// SubjectFeature returns the flag name gating a single subject.
func SubjectFeature(subject string) string {
	return SubjectFeaturePrefix + subject
}

// HasSubject reports whether the bundle includes subject.
func (f Features) HasSubject(subject string) bool {
	for _, s := range f.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// Flag resolves a named flag against the bundle. The second return value is
// false when the flag is unknown.
func (f Features) Flag(name string) (value bool, known bool) {
	name = strings.TrimSpace(name)
	if subject, ok := strings.CutPrefix(name, SubjectFeaturePrefix); ok {
		if !isKnownSubject(subject) {
			return false, false
		}
		return f.HasSubject(subject), true
	}

	switch name {
	case FeatureCustomChats:
		return f.ChatCreation == ChatScopeAny, true
	case FeatureAllSubjects:
		for _, subject := range proSubjects {
			if !f.HasSubject(subject) {
				return false, true
			}
		}
		return true, true
	case FeatureFileUpload:
		return f.FileUpload, true
	case FeatureUnlimitedMessages:
		return f.Messaging.DailyMessages == 0, true
	case FeatureLongMessages:
		return f.Messaging.MaxMessageLength == 0, true
	case FeatureAdvancedSettings:
		return !f.UI.HideAdvancedSettings, true
	case FeaturePremiumTemplates:
		return !f.UI.LockPremiumTemplates, true
	default:
		return false, false
	}
}

// HasFeature checks if a tier includes a specific feature.
func HasFeature(name Name, feature string) bool {
	def, err := Get(name)
	if err != nil {
		return false
	}
	granted, _ := def.Features.Flag(feature)
	return granted
}

// FeatureNames lists every non-subject flag.
func FeatureNames() []string {
	return []string{
		FeatureCustomChats,
		FeatureAllSubjects,
		FeatureFileUpload,
		FeatureUnlimitedMessages,
		FeatureLongMessages,
		FeatureAdvancedSettings,
		FeaturePremiumTemplates,
	}
}

func isKnownSubject(subject string) bool {
	for _, s := range proSubjects {
		if s == subject {
			return true
		}
	}
	return false
}
