package reminder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/notification"
)

var sampleTarget = Target{
	PatientName: "山田 花子",
	Date:        "2026-02-18",
	StartTime:   "08:00:00",
	MenuName:    "初診",
}

func TestRenderText(t *testing.T) {
	got, err := RenderText("{name}様 {date} {time} ({menu}) / {datetime}", sampleTarget)
	require.NoError(t, err)
	assert.Equal(t, "山田 花子様 2026/2/18 08:00-8:15 (初診) / 2026/2/18 08:00-8:15", got)
}

func TestRenderText_UnknownPlaceholderKept(t *testing.T) {
	got, err := RenderText("{clinic} {name}", sampleTarget)
	require.NoError(t, err)
	assert.Equal(t, "{clinic} 山田 花子", got)
}

func TestRenderText_BadStartTime(t *testing.T) {
	bad := sampleTarget
	bad.StartTime = "8"
	_, err := RenderText("{time}", bad)
	assert.Error(t, err)
}

func TestBuildMessage_Text(t *testing.T) {
	msg, err := BuildMessage(Rule{MessageFormat: FormatText, MessageTemplate: "{name}様"}, sampleTarget)
	require.NoError(t, err)
	assert.Equal(t, notification.MessageText, msg.Type)
	assert.Equal(t, "山田 花子様", msg.Text)
}

func TestBuildMessage_Flex(t *testing.T) {
	msg, err := BuildMessage(Rule{MessageFormat: FormatFlex, MessageTemplate: "{menu}の前日です"}, sampleTarget)
	require.NoError(t, err)
	assert.Equal(t, notification.MessageFlex, msg.Type)
	assert.Contains(t, msg.AltText, "2026/2/18 08:00-8:15")

	var bubble map[string]any
	require.NoError(t, json.Unmarshal(msg.Contents, &bubble))
	assert.Equal(t, "bubble", bubble["type"])
	assert.Contains(t, string(msg.Contents), "初診の前日です")
}

func TestBuildMessage_UnknownFormat(t *testing.T) {
	_, err := BuildMessage(Rule{MessageFormat: "sms"}, sampleTarget)
	assert.Error(t, err)
}
