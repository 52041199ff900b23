package record

import (
	"slices"
	"strings"
)

// Kind selects the action executor for a record. It is carried in the
// "type" header and never changes after creation.
type Kind string

const (
	KindOutboundMessage Kind = "outbound-message"
	KindSocialPost      Kind = "social-post"
	KindChatReply       Kind = "chat-reply"
	KindScheduledTask   Kind = "scheduled-task"
	KindReminder        Kind = "reminder"
	KindInboundEmail    Kind = "inbound-email"
	KindChatMessage     Kind = "chat-message"
	KindInboxFile       Kind = "inbox-file"
)

const (
	HeaderType             = "type"
	HeaderStatus           = "status"
	HeaderRequiresApproval = "requires_approval"
	HeaderTask             = "task"
	HeaderPriority         = "priority"
	HeaderCreated          = "created"
)

type KindSpec struct {
	Kind Kind
	// Prefix starts every file name of this kind.
	Prefix string
	// SlugFirst places the slug before the timestamp, so that all records
	// for one named task share the file name prefix Prefix+slug+"_".
	SlugFirst        bool
	RequiredHeaders  []string
	RequiredSections []string
	// ApprovalGated kinds perform an outbound side effect and must carry an
	// approval marker header.
	ApprovalGated bool
	Aliases       []string
}

var kindSpecs = []KindSpec{
	{
		Kind:             KindOutboundMessage,
		Prefix:           "EMAIL_",
		RequiredHeaders:  []string{"to", "subject"},
		RequiredSections: []string{"Body"},
		ApprovalGated:    true,
		Aliases:          []string{"email_approval"},
	},
	{
		Kind:             KindSocialPost,
		Prefix:           "LINKEDIN_",
		RequiredSections: []string{"Content"},
		ApprovalGated:    true,
		Aliases:          []string{"linkedin_post"},
	},
	{
		Kind:             KindChatReply,
		Prefix:           "WHATSAPP_",
		RequiredHeaders:  []string{"to"},
		RequiredSections: []string{"Message"},
		ApprovalGated:    true,
		Aliases:          []string{"whatsapp_reply"},
	},
	{
		Kind:             KindScheduledTask,
		Prefix:           "SCHEDULED_",
		SlugFirst:        true,
		RequiredHeaders:  []string{HeaderTask},
		RequiredSections: []string{"Instructions"},
		Aliases:          []string{"scheduled_task"},
	},
	{
		Kind:            KindReminder,
		Prefix:          "REMINDER_",
		SlugFirst:       true,
		RequiredHeaders: []string{HeaderTask},
	},
	{
		Kind:            KindInboundEmail,
		Prefix:          "email_",
		RequiredHeaders: []string{"from", "subject"},
		Aliases:         []string{"email"},
	},
	{
		Kind:             KindChatMessage,
		Prefix:           "whatsapp_",
		RequiredHeaders:  []string{"from"},
		RequiredSections: []string{"Message"},
		Aliases:          []string{"whatsapp"},
	},
	{
		Kind:            KindInboxFile,
		Prefix:          "FILE_",
		RequiredHeaders: []string{"source"},
		Aliases:         []string{"file_drop"},
	},
}

// ParseKind resolves a type tag, including legacy aliases, to a Kind.
func ParseKind(tag string) (Kind, bool) {
	tag = strings.TrimSpace(tag)
	for _, s := range kindSpecs {
		if string(s.Kind) == tag || slices.Contains(s.Aliases, tag) {
			return s.Kind, true
		}
	}
	return "", false
}

func LookupKind(k Kind) (KindSpec, bool) {
	for _, s := range kindSpecs {
		if s.Kind == k {
			return s, true
		}
	}
	return KindSpec{}, false
}

func Kinds() []Kind {
	out := make([]Kind, 0, len(kindSpecs))
	for _, s := range kindSpecs {
		out = append(out, s.Kind)
	}
	return out
}
