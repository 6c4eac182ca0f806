package slackchat

import (
	"testing"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

func TestLastIndexByteFindsLastOccurrence(t *testing.T) {
	assert.Equal(t, 7, lastIndexByte("abc\ndef\n", '\n'))
	assert.Equal(t, -1, lastIndexByte("no newline here", '\n'))
}

func TestFilenameOfStripsDirectory(t *testing.T) {
	assert.Equal(t, "notes.txt", filenameOf("/tmp/demo/notes.txt"))
	assert.Equal(t, "notes.txt", filenameOf("notes.txt"))
}

func callbackEvent(inner slackevents.MessageEvent) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Type: "message",
			Data: &inner,
		},
	}
}

func TestHandleEventsAPIForwardsPlainMessage(t *testing.T) {
	var got model.InboundMessage
	c := &Client{}
	c.OnMessage(func(msg model.InboundMessage) { got = msg })

	c.handleEventsAPI(callbackEvent(slackevents.MessageEvent{
		Channel:   "C123",
		User:      "U456",
		Text:      "hello there",
		TimeStamp: "100.001",
	}))

	require.Equal(t, "C123", got.ChannelID)
	assert.Equal(t, "hello there", got.Content)
	assert.Empty(t, got.ThreadID)
}

func TestHandleEventsAPIIgnoresBotMessages(t *testing.T) {
	called := false
	c := &Client{}
	c.OnMessage(func(msg model.InboundMessage) { called = true })

	c.handleEventsAPI(callbackEvent(slackevents.MessageEvent{
		Channel: "C123", User: "U456", Text: "hi", TimeStamp: "1", BotID: "B1",
	}))

	assert.False(t, called)
}

func TestHandleEventsAPISetsThreadIDForReplies(t *testing.T) {
	var got model.InboundMessage
	c := &Client{}
	c.OnMessage(func(msg model.InboundMessage) { got = msg })

	c.handleEventsAPI(callbackEvent(slackevents.MessageEvent{
		Channel: "C123", User: "U456", Text: "reply", TimeStamp: "2", ThreadTimeStamp: "1",
	}))

	assert.Equal(t, "1", got.ThreadID)
}
