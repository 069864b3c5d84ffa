package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDecodeSubscribe(t *testing.T) {
	data := []byte(`{"type":"subscribe","topic":"t","client_id":"c1","last_n":5,"request_id":"r1"}`)

	frame, requestID, err := DecodeClientFrame(data)
	require.NoError(t, err)
	require.Equal(t, "r1", requestID)

	sub, ok := frame.(*Subscribe)
	require.True(t, ok)
	require.Equal(t, "t", sub.Topic)
	require.Equal(t, "c1", sub.ClientID)
	require.Equal(t, 5, sub.LastN)
	require.Equal(t, "r1", sub.RequestID)
}

func TestDecodeSubscribeDefaults(t *testing.T) {
	data := []byte(`{"type":"subscribe","topic":"t","client_id":"c1"}`)

	frame, requestID, err := DecodeClientFrame(data)
	require.NoError(t, err)
	require.Empty(t, requestID)
	require.Equal(t, 0, frame.(*Subscribe).LastN)
}

func TestDecodeSubscribeValidation(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"missing topic", `{"type":"subscribe","client_id":"c1"}`, "topic is required"},
		{"missing client_id", `{"type":"subscribe","topic":"t"}`, "client_id is required"},
		{"negative last_n", `{"type":"subscribe","topic":"t","client_id":"c1","last_n":-1}`, "last_n must be >= 0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeClientFrame([]byte(tc.data))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDecodeUnsubscribe(t *testing.T) {
	data := []byte(`{"type":"unsubscribe","topic":"t","client_id":"c1","request_id":"r2"}`)

	frame, _, err := DecodeClientFrame(data)
	require.NoError(t, err)

	unsub, ok := frame.(*Unsubscribe)
	require.True(t, ok)
	require.Equal(t, "t", unsub.Topic)
	require.Equal(t, "c1", unsub.ClientID)
}

func TestDecodePublish(t *testing.T) {
	id := uuid.New()
	data := []byte(`{"type":"publish","topic":"t","message":{"id":"` + id.String() + `","payload":{"k":"v"}},"request_id":"r3"}`)

	frame, requestID, err := DecodeClientFrame(data)
	require.NoError(t, err)
	require.Equal(t, "r3", requestID)

	pub, ok := frame.(*Publish)
	require.True(t, ok)
	require.Equal(t, "t", pub.Topic)
	require.Equal(t, id, pub.Message.ID)
	require.Equal(t, "v", pub.Message.Payload["k"])
}

func TestDecodePublishValidation(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"missing message", `{"type":"publish","topic":"t"}`, "message is required"},
		{"missing id", `{"type":"publish","topic":"t","message":{"payload":{}}}`, "message.id must be a valid UUID"},
		{"bad id", `{"type":"publish","topic":"t","message":{"id":"nope","payload":{}}}`, "invalid message"},
		{"missing payload", `{"type":"publish","topic":"t","message":{"id":"00000000-0000-0000-0000-000000000001"}}`, "message.payload is required"},
		{"missing topic", `{"type":"publish","message":{"id":"00000000-0000-0000-0000-000000000001","payload":{}}}`, "topic is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeClientFrame([]byte(tc.data))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDecodePing(t *testing.T) {
	frame, requestID, err := DecodeClientFrame([]byte(`{"type":"ping","request_id":"r4"}`))
	require.NoError(t, err)
	require.Equal(t, "r4", requestID)
	require.IsType(t, &Ping{}, frame)
}

func TestDecodeUnsupportedType(t *testing.T) {
	_, requestID, err := DecodeClientFrame([]byte(`{"type":"shout","request_id":"r5"}`))
	require.Error(t, err)
	require.Equal(t, "r5", requestID)
	require.Contains(t, err.Error(), "unsupported message type")
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, _, err := DecodeClientFrame([]byte(`{not json`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid JSON frame")
}

func TestAckShape(t *testing.T) {
	data, err := json.Marshal(NewAck("r1", "t"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, "ack", m["type"])
	require.Equal(t, "r1", m["request_id"])
	require.Equal(t, "t", m["topic"])
	require.Equal(t, "ok", m["status"])

	ts, err := time.Parse(time.RFC3339Nano, m["ts"].(string))
	require.NoError(t, err)
	require.Equal(t, time.UTC, ts.Location())
}

func TestAckOmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(NewAck("", ""))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	require.NotContains(t, m, "request_id")
	require.NotContains(t, m, "topic")
}

func TestErrorFrameShape(t *testing.T) {
	data, err := json.Marshal(NewError("r1", CodeTopicNotFound, "Operation failed"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, "error", m["type"])

	body := m["error"].(map[string]any)
	require.Equal(t, "TOPIC_NOT_FOUND", body["code"])
	require.Equal(t, "Operation failed", body["message"])
}

func TestInfoFrameShape(t *testing.T) {
	data, err := json.Marshal(NewInfo("t", InfoTopicDeleted))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, "info", m["type"])
	require.Equal(t, "t", m["topic"])
	require.Equal(t, "topic_deleted", m["msg"])
}

func TestEventRoundTrip(t *testing.T) {
	msg := MessagePayload{ID: uuid.New(), Payload: map[string]any{"k": "v"}}
	data, err := json.Marshal(NewEvent("t", msg))
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, TypeEvent, ev.Type)
	require.Equal(t, "t", ev.Topic)
	require.Equal(t, msg.ID, ev.Message.ID)
	require.Equal(t, "v", ev.Message.Payload["k"])
}
