package tiers

// Actions that may be refused on a restricted tier.
const (
	ActionCreateChat      = "create_chat"
	ActionSelectSubject   = "select_subject"
	ActionUploadFile      = "upload_file"
	ActionSendMessage     = "send_message"
	ActionLongMessage     = "long_message"
	ActionOpenSettings    = "open_settings"
	ActionPremiumTemplate = "premium_template"
)

// GenericRestriction is shown for actions without a dedicated message.
const GenericRestriction = "This feature is available on PRO. Upgrade to unlock it."

// RestrictionEntry ties a restricted action to the flag gating it and the
// message shown to the user.
type RestrictionEntry struct {
	Action  string
	Feature string
	Message string
}

// restrictionMatrix is the canonical action-to-message table.
var restrictionMatrix = []RestrictionEntry{
	{
		Action:  ActionCreateChat,
		Feature: FeatureCustomChats,
		Message: "Advanced accounts can only start chats from a subject. Upgrade to PRO to create custom chats.",
	},
	{
		Action:  ActionSelectSubject,
		Feature: FeatureAllSubjects,
		Message: "This subject is part of PRO. Upgrade to generate blog posts, ad copy, SEO content and more.",
	},
	{
		Action:  ActionUploadFile,
		Feature: FeatureFileUpload,
		Message: "File uploads are a PRO feature. Upgrade to attach documents to your prompts.",
	},
	{
		Action:  ActionSendMessage,
		Feature: FeatureUnlimitedMessages,
		Message: "You have reached the daily message limit for Advanced. Upgrade to PRO for unlimited messages.",
	},
	{
		Action:  ActionLongMessage,
		Feature: FeatureLongMessages,
		Message: "Messages on Advanced are limited in length. Upgrade to PRO to send longer prompts.",
	},
	{
		Action:  ActionOpenSettings,
		Feature: FeatureAdvancedSettings,
		Message: "Model and tone settings are available on PRO.",
	},
	{
		Action:  ActionPremiumTemplate,
		Feature: FeaturePremiumTemplates,
		Message: "Premium templates are available on PRO.",
	},
}

// RestrictionMatrix returns a copy of the action-to-message table.
func RestrictionMatrix() []RestrictionEntry {
	return append([]RestrictionEntry(nil), restrictionMatrix...)
}

// RestrictionMessage returns the message for action, or GenericRestriction
// when the action is not in the matrix.
func RestrictionMessage(action string) string {
	for _, entry := range restrictionMatrix {
		if entry.Action == action {
			return entry.Message
		}
	}
	return GenericRestriction
}
