package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWatcher(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "failed to dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType MessageType, data any) {
	t.Helper()
	msg, err := NewMessage(msgType, data)
	require.NoError(t, err)
	msg.RequestID = "req-" + msgType.String()
	require.NoError(t, conn.WriteJSON(msg))
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readSnapshot(t *testing.T, conn *websocket.Conn) RoundSnapshotData {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeRoundSnapshot, msg.Type, string(msg.Data))

	var data RoundSnapshotData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func TestWatcherReceivesChanges(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	created := env.createRound("20", "Alice", "Bob")
	conn := dialWatcher(t, env)

	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: strings.ToLower(created.Code)})
	initial := readSnapshot(t, conn)
	assert.Equal(t, "subscribed", initial.Change)
	assert.Equal(t, created.Code, initial.Round.Code)
	require.Len(t, initial.Round.Players, 2)

	bob := created.Round.Players[1].ID
	env.snapshot(http.MethodPost, "/api/rounds/"+created.Code+"/players/"+bob+"/buy-ins", created.DealerToken, nil)

	update := readSnapshot(t, conn)
	assert.Equal(t, "buy_in_added", update.Change)
	assert.Equal(t, 2, update.Round.Players[1].BuyIns)

	env.snapshot(http.MethodPost, "/api/rounds/"+created.Code+"/end", created.DealerToken, nil)
	update = readSnapshot(t, conn)
	assert.Equal(t, "ended", update.Change)

	assert.Eventually(t, func() bool { return env.server.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWatcherOnlySeesItsRound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	watched := env.createRound("5", "A", "B")
	other := env.createRound("5", "C", "D")

	conn := dialWatcher(t, env)
	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: watched.Code})
	readSnapshot(t, conn)

	env.snapshot(http.MethodPost, "/api/rounds/"+other.Code+"/end", other.DealerToken, nil)
	env.snapshot(http.MethodPost, "/api/rounds/"+watched.Code+"/end", watched.DealerToken, nil)

	update := readSnapshot(t, conn)
	assert.Equal(t, watched.Code, update.Round.Code, "changes to other rounds are not forwarded")
}

func TestWatcherErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	conn := dialWatcher(t, env)

	tests := []struct {
		name    string
		msgType MessageType
		data    any
		code    string
	}{
		{"unknown round", MessageTypeSubscribe, SubscribeData{Code: "ZZZZZZ"}, "not_found"},
		{"bad code", MessageTypeSubscribe, SubscribeData{Code: "nope"}, "invalid_code"},
		{"unknown type", MessageType("deal_cards"), struct{}{}, "unknown_message_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendMessage(t, conn, tt.msgType, tt.data)
			msg := readMessage(t, conn)
			require.Equal(t, MessageTypeError, msg.Type)
			assert.Equal(t, "req-"+tt.msgType.String(), msg.RequestID)

			var data ErrorData
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			assert.Equal(t, tt.code, data.Code)
		})
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	created := env.createRound("5", "A", "B")
	conn := dialWatcher(t, env)

	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: created.Code})
	readSnapshot(t, conn)

	sendMessage(t, conn, MessageTypeUnsubscribe, struct{}{})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeUnsubscribed, msg.Type)

	env.snapshot(http.MethodPost, "/api/rounds/"+created.Code+"/end", created.DealerToken, nil)
	env.bus.Wait()

	// Subscribing to the same round again yields its current state first.
	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: created.Code})
	data := readSnapshot(t, conn)
	assert.Equal(t, "subscribed", data.Change)
	assert.Equal(t, "settlement", string(data.Round.Phase))
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	assert.True(t, originAllowed(nil, "https://a.example"))
	assert.True(t, originAllowed([]string{"*"}, "https://a.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, "https://a.example"))
	assert.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
	assert.True(t, originAllowed([]string{"https://a.example"}, ""))
}

func TestWatcherSurvivesAnotherHubStopping(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	created := env.createRound("10", "Alice", "Bob")

	conn := dialWatcher(t, env)
	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: created.Code})
	readSnapshot(t, conn)

	// A second hub on the same bus unsubscribes when it stops.
	other := NewHub(env.service, env.bus, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		other.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	env.snapshot(http.MethodPost, "/api/rounds/"+created.Code+"/end", created.DealerToken, nil)
	update := readSnapshot(t, conn)
	assert.Equal(t, "ended", update.Change)
}

func TestWatcherSeesRoundDeleted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithAdminToken("admin-secret"))
	created := env.createRound("10", "Alice", "Bob")

	conn := dialWatcher(t, env)
	sendMessage(t, conn, MessageTypeSubscribe, SubscribeData{Code: created.Code})
	readSnapshot(t, conn)

	status, _ := env.doAdmin(http.MethodDelete, "/api/rounds/"+created.Code, "admin-secret")
	require.Equal(t, http.StatusNoContent, status)

	update := readSnapshot(t, conn)
	assert.Equal(t, "deleted", update.Change)
	assert.Equal(t, created.Code, update.Round.Code)
}
