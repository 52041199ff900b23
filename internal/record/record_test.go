package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskvault/pkg/cerr"
)

const legacyDraft = `---
type: email_approval
to: client@example.com
subject: Re: Invoice #42
created: 2026-01-19 09:30:00
status: pending_approval
---

# Email Draft for Approval

## To
client@example.com

## Subject
Re: Invoice #42

## Body
Hi,

Please find the invoice attached.
---
**To Approve:** Move this file to Approved/ folder
`

func TestParse_LegacyDraft(t *testing.T) {
	rec, err := ParseValid([]byte(legacyDraft))
	require.NoError(t, err)

	kind, ok := rec.Kind()
	require.True(t, ok)
	assert.Equal(t, KindOutboundMessage, kind)
	assert.Equal(t, "Re: Invoice #42", rec.Header.Value("subject"))
	assert.True(t, rec.RequiresApproval())

	created, ok := rec.Header.Time("created")
	require.True(t, ok)
	assert.True(t, time.Date(2026, 1, 19, 9, 30, 0, 0, time.Local).Equal(created))

	assert.Equal(t, "# Email Draft for Approval", rec.Preamble)
	body, ok := rec.Section("body")
	require.True(t, ok)
	assert.Equal(t, "Hi,\n\nPlease find the invoice attached.", body)
	assert.Equal(t, "**To Approve:** Move this file to Approved/ folder", rec.Trailer)
	assert.Len(t, rec.Sections, 3)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: "\n\n"},
		{name: "no header", in: "## Body\nhello\n"},
		{name: "unterminated header", in: "---\ntype: reminder\ntask: x\n"},
		{name: "line without colon", in: "---\ntype reminder\n---\n"},
		{name: "bad key", in: "---\nmy key: v\n---\n"},
		{name: "duplicate key", in: "---\ntype: reminder\ntype: email\n---\n"},
		{name: "duplicate section", in: "---\ntype: reminder\n---\n## A\nx\n## a\ny\n"},
		{name: "empty section name", in: "---\ntype: reminder\n---\n## \nx\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, cerr.IsCode(err, cerr.ParseError))
			assert.False(t, cerr.CodeOf(err).Retryable())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{
			name: "outbound message complete",
			in:   "---\ntype: outbound-message\nto: a@b.c\nsubject: hi\nrequires_approval: true\n---\n## Body\nhello\n",
		},
		{
			name:    "outbound message without approval marker",
			in:      "---\ntype: outbound-message\nto: a@b.c\nsubject: hi\n---\n## Body\nhello\n",
			wantErr: true,
		},
		{
			name:    "outbound message without body",
			in:      "---\ntype: outbound-message\nto: a@b.c\nsubject: hi\nstatus: pending_approval\n---\n",
			wantErr: true,
		},
		{
			name:    "scheduled task without instructions",
			in:      "---\ntype: scheduled_task\ntask: daily_briefing\n---\n## Scheduled Time\nnow\n",
			wantErr: true,
		},
		{
			name:    "missing type",
			in:      "---\ntask: x\n---\n",
			wantErr: true,
		},
		{
			name: "unknown kind is valid",
			in:   "---\ntype: fax\n---\n## Page\n1\n",
		},
		{
			name: "reminder",
			in:   "---\ntype: reminder\ntask: pending_approvals\n---\n\n# Reminder\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseValid([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, cerr.IsCode(err, cerr.ParseError))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	rec := New(KindChatReply, NewHeader(
		"to", "+81 90 0000 0000",
		"note", "  padded  ",
		"quoted", `"already quoted"`,
		"requires_approval", "true",
	))
	rec.Preamble = "# Reply\n\n---\nseparator in preamble is text"
	rec.SetSection("Message", "Thanks!\n\n  indented line")
	rec.SetSection("Context", "")
	rec.Trailer = "Move to Approved/ to send."

	data, err := Format(rec)
	require.NoError(t, err)

	got, err := ParseValid(data)
	require.NoError(t, err)
	assert.True(t, rec.Header.Equal(got.Header))
	assert.Equal(t, rec.Preamble, got.Preamble)
	assert.Equal(t, rec.Sections, got.Sections)
	assert.Equal(t, rec.Trailer, got.Trailer)
}

func TestFormat_RejectsAmbiguousContent(t *testing.T) {
	rec := New(KindSocialPost, NewHeader("requires_approval", "true"))
	rec.SetSection("Content", "line\n## not a section")
	_, err := Format(rec)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	rec.SetSection("Content", "above\n---\nbelow")
	_, err = Format(rec)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	rec = New(KindReminder, NewHeader("bad key", "x"))
	_, err = Format(rec)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestHeader(t *testing.T) {
	h := NewHeader("keywords", "[urgent, invoice,  ]", "flag", "true")
	assert.Equal(t, []string{"urgent", "invoice"}, h.List("keywords"))
	assert.True(t, h.Bool("flag"))
	assert.False(t, h.Bool("missing"))

	h.SetList("keywords", []string{"asap"})
	assert.Equal(t, "asap", h.Value("keywords"))

	h.Delete("flag")
	assert.False(t, h.Has("flag"))
	assert.Equal(t, 1, h.Len())

	assert.True(t, NewHeader("a", "1", "b", "2").Equal(NewHeader("b", "2", "a", "1")))
	assert.False(t, NewHeader("a", "1").Equal(NewHeader("a", "2")))
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"email_approval":   KindOutboundMessage,
		"outbound-message": KindOutboundMessage,
		"linkedin_post":    KindSocialPost,
		"whatsapp":         KindChatMessage,
		"email":            KindInboundEmail,
		"scheduled_task":   KindScheduledTask,
		" reminder ":       KindReminder,
	}
	for tag, want := range tests {
		got, ok := ParseKind(tag)
		assert.True(t, ok, tag)
		assert.Equal(t, want, got, tag)
	}
	_, ok := ParseKind("fax")
	assert.False(t, ok)
	assert.Len(t, Kinds(), 8)
}
