package lobbyclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/lobbywire"
)

// testLobbyServer serves the OAuth2 discovery/token endpoints and
// upgrades /tachyon to a websocket, handing each accepted connection to
// onConn for the test to drive.
type testLobbyServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	onConn   func(*websocket.Conn)
}

func newTestLobbyServer(t *testing.T, onConn func(*websocket.Conn)) *testLobbyServer {
	s := &testLobbyServer{onConn: onConn}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"token_endpoint":%q,"response_types_supported":["token"]}`, s.URL+"/oauth/token")
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer"}`)
	})
	mux.HandleFunc("/tachyon", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if s.onConn != nil {
			s.onConn(conn)
		}
	})
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *testLobbyServer) config(t *testing.T) config.Config {
	host, portStr, err := splitHostPort(s.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	secure := false
	return config.Config{
		TachyonServer:       host,
		TachyonServerPort:   port,
		UseSecureConnection: &secure,
		AuthClientID:        "client",
		AuthClientSecret:    "secret",
		MaxReconnectDelaySeconds: 1,
	}
}

func splitHostPort(rawURL string) (string, string, error) {
	const prefix = "http://"
	hostport := rawURL[len(prefix):]
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no port in %q", rawURL)
}

func TestClient_ConnectsAndExchangesMessages(t *testing.T) {
	serverGotMessage := make(chan []byte, 1)
	srv := newTestLobbyServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","messageId":"m1","commandId":"status","data":{}}`))
		_, data, err := conn.ReadMessage()
		if err == nil {
			serverGotMessage <- data
		}
	})
	defer srv.Close()

	var connected, closed int32
	var mu sync.Mutex
	var received []lobbywire.InEnvelope

	client := New(srv.config(t), Events{
		OnConnected: func() { mu.Lock(); connected++; mu.Unlock() },
		OnMessage:   func(env lobbywire.InEnvelope) { mu.Lock(); received = append(received, env); mu.Unlock() },
		OnClose:     func() { mu.Lock(); closed++; mu.Unlock() },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	err := client.Send(lobbywire.NewEvent("ack", map[string]any{"ok": true}))
	require.NoError(t, err)

	select {
	case msg := <-serverGotMessage:
		assert.Contains(t, string(msg), `"commandId":"ack"`)
	case <-time.After(time.Second):
		t.Fatal("server never received client message")
	}

	cancel()
	<-done
}

func TestClient_Send_NotConnectedBeforeDial(t *testing.T) {
	client := New(config.Config{}, Events{})
	err := client.Send(lobbywire.NewEvent("status", nil))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_BinaryFrameClosesConnection(t *testing.T) {
	reconnected := make(chan struct{}, 1)
	first := true
	srv := newTestLobbyServer(t, func(conn *websocket.Conn) {
		if first {
			first = false
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
			return
		}
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})
	defer srv.Close()

	var errs []error
	var mu sync.Mutex
	client := New(srv.config(t), Events{
		OnError: func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never reconnected after binary frame close")
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, errs)
}

func TestWSScheme(t *testing.T) {
	assert.Equal(t, "wss", wsScheme(true))
	assert.Equal(t, "ws", wsScheme(false))
}
