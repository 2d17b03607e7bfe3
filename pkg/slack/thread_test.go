package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func threadMsg(text string, atts ...goslack.Attachment) goslack.Message {
	return goslack.Message{Msg: goslack.Msg{Text: text, Attachments: atts}}
}

func TestMentionsCase(t *testing.T) {
	t.Run("matches case-insensitively in message text", func(t *testing.T) {
		msg := threadMsg("Triage update for scs0048123: waiting on the vendor")
		assert.True(t, mentionsCase(msg, "SCS0048123"))
	})

	t.Run("formatting whitespace does not hide a mention", func(t *testing.T) {
		msg := threadMsg("escalated:\n\n  SCS0048123\t(VPN outage, 20 users)")
		assert.True(t, mentionsCase(msg, "scs0048123"))
	})

	t.Run("searches attachment text", func(t *testing.T) {
		msg := threadMsg("new case posted", goslack.Attachment{Text: "SCS0048123 assigned to Service Desk"})
		assert.True(t, mentionsCase(msg, "SCS0048123"))
	})

	t.Run("searches attachment fallback", func(t *testing.T) {
		msg := threadMsg("", goslack.Attachment{Fallback: "Case SCS0048123 needs review"})
		assert.True(t, mentionsCase(msg, "SCS0048123"))
	})

	t.Run("unrelated message does not match", func(t *testing.T) {
		msg := threadMsg("Standup moved to 10:30")
		assert.False(t, mentionsCase(msg, "SCS0048123"))
	})

	t.Run("different case number does not match", func(t *testing.T) {
		msg := threadMsg("SCS0099999 resolved")
		assert.False(t, mentionsCase(msg, "SCS0048123"))
	})

	t.Run("empty case number never matches", func(t *testing.T) {
		assert.False(t, mentionsCase(threadMsg("anything at all"), ""))
		assert.False(t, mentionsCase(threadMsg("anything at all"), "   "))
	})

	t.Run("empty message does not match", func(t *testing.T) {
		assert.False(t, mentionsCase(goslack.Message{}, "SCS0048123"))
	})
}
