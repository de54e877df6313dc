package daemon

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/backend"
	"github.com/matheus3301/desk/internal/bus"
	"github.com/matheus3301/desk/internal/config"
	"github.com/matheus3301/desk/internal/hub"
	"github.com/matheus3301/desk/internal/session"
	"github.com/matheus3301/desk/internal/status"
	"github.com/matheus3301/desk/internal/store"
	intsync "github.com/matheus3301/desk/internal/sync"
	"github.com/matheus3301/desk/internal/transport"
)

// startHub runs a development hub with one conversation.
func startHub(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	require.NoError(t, db.UpsertConversation(&store.Conversation{ID: "c1", DisplayName: "Ana", LastMessage: "hi", LastAt: 1000}))
	_, _, err = db.InsertMessage(&store.Message{ID: "m1", ConversationID: "c1", Direction: "inbound", Type: "text", Content: `"hi"`, Status: "delivered", Timestamp: 1000})
	require.NoError(t, err)

	h := hub.New(db, hub.Options{}, nil)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() { _ = db.Close() })
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return srv
}

// shortTempDir avoids the ~104 byte unix socket path limit on macOS.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func dial(t *testing.T, socketPath string) *api.ConsoleClient {
	t.Helper()
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return api.NewConsoleClient(conn)
}

func TestDaemonLifecycle(t *testing.T) {
	hubSrv := startHub(t)
	socketPath := filepath.Join(shortTempDir(t, "desk-test-*"), "d.sock")

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	tr := transport.New(transport.Options{URL: "ws" + strings.TrimPrefix(hubSrv.URL, "http") + "/ws"}, machine, logger)
	defer tr.Close()
	engine := intsync.NewEngine(intsync.Options{PageSize: 50}, backend.New(hubSrv.URL, "", time.Second), tr, b, logger)
	engine.Start(context.Background())
	defer engine.Stop()

	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, nil, logger, api.NewConsoleService("test", engine, b))
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	client := dial(t, socketPath)
	ctx := context.Background()

	st, err := client.GetStatus(ctx, &api.GetStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "test", st.Profile)
	assert.Equal(t, string(status.Disconnected), st.State)

	require.Eventually(t, func() bool {
		resp, err := client.ListConversations(ctx, &api.ListConversationsRequest{})
		return err == nil && len(resp.Conversations) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, err = client.SelectConversation(ctx, &api.ConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		w, err := client.GetWindow(ctx, &api.ConversationRequest{})
		return err == nil && !w.Loading && len(w.Messages) == 1
	}, 3*time.Second, 10*time.Millisecond)

	conn, err := client.Connect(ctx, &api.Empty{})
	require.NoError(t, err)
	assert.Equal(t, string(status.Online), conn.State)

	sent, err := client.SubmitMessage(ctx, &api.SubmitMessageRequest{Text: "hello from the console"})
	require.NoError(t, err)
	assert.Equal(t, "pending", sent.Message.State)
	require.Eventually(t, func() bool {
		w, err := client.GetWindow(ctx, &api.ConversationRequest{})
		if err != nil || len(w.Messages) != 2 {
			return false
		}
		return w.Messages[1].ClientID == sent.Message.ID && w.Messages[1].ID != sent.Message.ID
	}, 3*time.Second, 10*time.Millisecond)

	conn, err = client.Disconnect(ctx, &api.Empty{})
	require.NoError(t, err)
	assert.Equal(t, string(status.Disconnected), conn.State)
}

func writeProfile(t *testing.T, home, profile string, p config.Profile) {
	t.Helper()
	t.Setenv(session.HomeEnv, home)
	require.NoError(t, session.EnsureDir(profile))
	require.NoError(t, config.Save(session.ProfilePath(profile), p))
}

// TestFxModuleWiring verifies the fx dependency graph resolves and the daemon
// serves its socket.
func TestFxModuleWiring(t *testing.T) {
	hubSrv := startHub(t)
	home := shortTempDir(t, "desk-fx-*")
	writeProfile(t, home, "fxtest", config.Profile{
		APIURL:  hubSrv.URL,
		PushURL: "ws" + strings.TrimPrefix(hubSrv.URL, "http") + "/ws",
	})
	socketPath := filepath.Join(home, "d.sock")

	app := fx.New(Module(Params{Profile: "fxtest", SocketPath: socketPath}), fx.NopLogger)
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() { _ = app.Stop(ctx) }()

	client := dial(t, socketPath)
	require.Eventually(t, func() bool {
		st, err := client.GetStatus(ctx, &api.GetStatusRequest{})
		return err == nil && st.Profile == "fxtest" && st.Conversations == 1
	}, 3*time.Second, 20*time.Millisecond)

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	logData, err := os.ReadFile(session.LogPath("fxtest"))
	require.NoError(t, err)
	var first map[string]any
	line, _, _ := strings.Cut(string(logData), "\n")
	require.NoError(t, json.Unmarshal([]byte(line), &first))
	assert.Equal(t, "fxtest", first["profile"])
}

func TestConnectParamOverridesProfile(t *testing.T) {
	hubSrv := startHub(t)
	home := shortTempDir(t, "desk-conn-*")
	writeProfile(t, home, "ops", config.Profile{
		APIURL:  hubSrv.URL,
		PushURL: "ws" + strings.TrimPrefix(hubSrv.URL, "http") + "/ws",
	})
	socketPath := filepath.Join(home, "d.sock")

	app := fx.New(Module(Params{Profile: "ops", SocketPath: socketPath, Connect: true}), fx.NopLogger)
	require.NoError(t, app.Err())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() { _ = app.Stop(ctx) }()

	client := dial(t, socketPath)
	require.Eventually(t, func() bool {
		st, err := client.GetStatus(ctx, &api.GetStatusRequest{})
		return err == nil && st.State == string(status.Online)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSecondDaemonIsRefused(t *testing.T) {
	hubSrv := startHub(t)
	home := shortTempDir(t, "desk-lock-*")
	writeProfile(t, home, "main", config.Profile{APIURL: hubSrv.URL})
	socketPath := filepath.Join(home, "d.sock")

	first := fx.New(Module(Params{Profile: "main", SocketPath: socketPath}), fx.NopLogger)
	require.NoError(t, first.Err())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, first.Start(ctx))
	defer func() { _ = first.Stop(ctx) }()

	second := fx.New(Module(Params{Profile: "main", SocketPath: socketPath}), fx.NopLogger)
	require.Error(t, second.Err())
	assert.Contains(t, second.Err().Error(), "profile lock held")

	// The running daemon keeps its socket.
	client := dial(t, socketPath)
	_, err := client.GetStatus(ctx, &api.GetStatusRequest{})
	require.NoError(t, err)
}

func TestStopEndsWatchStreams(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "desk-watch-*"), "d.sock")
	b := bus.New()
	svc := api.NewConsoleService("w", nil, b)
	srv, err := NewServer(Params{Profile: "w", SocketPath: socketPath}, nil, zap.NewNop(), svc)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()

	client := dial(t, socketPath)
	stream, err := client.WatchEvents(context.Background(), &api.WatchEventsRequest{})
	require.NoError(t, err)

	// Make sure the stream is established before stopping.
	go func() {
		for range 50 {
			b.Emit(bus.KindTransportState, status.StatusChange{From: status.Connecting, To: status.Online})
			time.Sleep(10 * time.Millisecond)
		}
	}()
	_, err = stream.Recv()
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on an open watch stream")
	}
}
