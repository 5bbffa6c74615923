package client

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokersplit/internal/events"
	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/server"
	"github.com/lox/pokersplit/internal/store"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func startServer(t *testing.T) (*httptest.Server, *server.RoundService, *events.Bus) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "rounds.db"))
	require.NoError(t, err)

	bus := events.NewBus()
	service := server.NewRoundService(st, bus, testLogger())
	srv := server.NewServer(service, bus, testLogger(), nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		bus.Wait()
		_ = st.Close()
	})
	return ts, service, bus
}

func nextUpdate(t *testing.T, c *Client) Update {
	t.Helper()
	select {
	case u, ok := <-c.Updates():
		require.True(t, ok, "updates channel closed")
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://split.example/", "wss://split.example/ws", false},
		{"https://split.example/app", "wss://split.example/app/ws", false},
		{"ws://127.0.0.1:9000", "ws://127.0.0.1:9000/ws", false},
		{"ftp://nope", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebSocketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientWatchesRound(t *testing.T) {
	t.Parallel()
	ts, service, bus := startServer(t)
	ctx := context.Background()

	created, err := service.CreateRound(ctx, decimal.NewFromInt(25), []string{"Ann", "Ben"})
	require.NoError(t, err)
	bus.Wait()

	c := NewClient(ts.URL, testLogger())
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Subscribe(created.Code))
	initial := nextUpdate(t, c)
	require.Nil(t, initial.Err)
	assert.Equal(t, "subscribed", initial.Change)
	assert.Equal(t, created.Code, initial.Round.Code)

	_, err = service.CashOut(ctx, created.Code, created.DealerToken, created.Round.Players[0].ID, decimal.NewFromInt(10))
	require.NoError(t, err)

	update := nextUpdate(t, c)
	assert.Equal(t, "cashed_out", update.Change)
	assert.True(t, update.Round.Players[0].CashedOut)
	assert.Equal(t, round.PhasePlaying, update.Round.Phase)
}

func TestClientReportsErrors(t *testing.T) {
	t.Parallel()
	ts, _, _ := startServer(t)

	c := NewClient(ts.URL, testLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.NoError(t, c.Subscribe("ZZZZZZ"))
	update := nextUpdate(t, c)
	require.NotNil(t, update.Err)
	assert.Equal(t, "not_found", update.Err.Code)
}

func TestClientDisconnectClosesUpdates(t *testing.T) {
	t.Parallel()
	ts, _, _ := startServer(t)

	c := NewClient(ts.URL, testLogger())
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	select {
	case _, ok := <-c.Updates():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("updates channel not closed")
	}
	assert.False(t, c.IsConnected())
}
