package terminal

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/retroforth/pkg/resources"
	"github.com/antibyte/retroforth/pkg/shared"
	"github.com/antibyte/retroforth/pkg/store"
)

func newTestServer(t *testing.T) (*TerminalHandler, *httptest.Server) {
	t.Helper()
	h := NewTerminalHandler(resources.NewSessionManager(), newMemoryLibrary())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, token string) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) read() shared.Message {
	c.t.Helper()
	var m shared.Message
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	require.NoError(c.t, c.conn.ReadJSON(&m))
	return m
}

func (c *wsClient) write(req shared.Request) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(req))
}

// handshake reads the session and welcome messages.
func (c *wsClient) handshake() (id, token, greeting string) {
	c.t.Helper()
	m := c.read()
	require.Equal(c.t, shared.MessageTypeSession, m.Type)
	require.NotEmpty(c.t, m.SessionID)
	return m.SessionID, m.Content, c.read().Content
}

func (c *wsClient) line() (string, []shared.Message) {
	c.t.Helper()
	var (
		out    strings.Builder
		others []shared.Message
	)
	for {
		m := c.read()
		switch {
		case isLineEnd(m):
			return out.String(), others
		case m.Type == shared.MessageTypeText && m.NoNewline:
			out.WriteString(m.Content)
		default:
			others = append(others, m)
		}
	}
}

func (c *wsClient) run(line string) string {
	c.t.Helper()
	c.write(shared.Request{Type: shared.MessageTypeText, Content: line})
	out, _ := c.line()
	return out
}

func TestWebSocketSession(t *testing.T) {
	h, srv := newTestServer(t)
	c := dial(t, srv, "")

	id, token, greeting := c.handshake()
	assert.NotEmpty(t, token)
	assert.Equal(t, welcomeMessage, greeting)
	assert.Equal(t, 1, h.SessionCount())
	assert.NotNil(t, h.Session(id))

	assert.Equal(t, "5  ok", c.run("2 3 + ."))
	assert.Equal(t, "1 2 3  ok", c.run("3 0 do i 1 + . loop"))
}

func TestWebSocketReattach(t *testing.T) {
	h, srv := newTestServer(t)

	first := dial(t, srv, "")
	id, token, _ := first.handshake()
	assert.Equal(t, " ok", first.run(": five 5 ;"))
	first.conn.Close()

	second := dial(t, srv, token)
	resumedID, _, greeting := second.handshake()
	assert.Equal(t, id, resumedID)
	assert.Equal(t, "session resumed", greeting)
	assert.Equal(t, "5  ok", second.run("five ."))
	assert.Equal(t, 1, h.SessionCount())

	// A bad token starts a fresh session
	third := dial(t, srv, "not-a-token")
	freshID, _, greeting := third.handshake()
	assert.NotEqual(t, id, freshID)
	assert.Equal(t, welcomeMessage, greeting)
}

func TestWebSocketKeyAndGraphics(t *testing.T) {
	_, srv := newTestServer(t)
	c := dial(t, srv, "")
	c.handshake()

	c.write(shared.Request{Type: shared.MessageTypeText, Content: "key ."})
	m := c.read()
	require.Equal(t, shared.MessageTypeInputControl, m.Type)
	assert.Equal(t, shared.InputDisable, m.Content)

	c.write(shared.Request{Type: shared.MessageTypeKeyDown, Key: "a"})
	out, others := c.line()
	assert.Equal(t, "97  ok", out)
	require.Len(t, others, 1)
	assert.Equal(t, shared.InputEnable, others[0].Content)

	c.write(shared.Request{Type: shared.MessageTypeText, Content: "9 graphics 48 + !"})
	_, others = c.line()
	require.Len(t, others, 1)
	assert.Equal(t, shared.GraphicsCommandCell, others[0].Command)
	assert.Equal(t, map[string]interface{}{"x": 0.0, "y": 2.0, "value": 9.0}, others[0].Params)
}

func TestWebSocketLibrary(t *testing.T) {
	_, srv := newTestServer(t)
	c := dial(t, srv, "")
	c.handshake()

	assert.Equal(t, " ok", c.run(": sq dup * ;"))
	c.write(shared.Request{Type: shared.MessageTypeSave, Content: "squares"})
	assert.Equal(t, " saved squares", c.read().Content)

	c.write(shared.Request{Type: shared.MessageTypeList})
	assert.Equal(t, " squares", c.read().Content)

	other := dial(t, srv, "")
	other.handshake()
	other.write(shared.Request{Type: shared.MessageTypeLoad, Content: "squares"})
	assert.Equal(t, ": sq dup * ;", other.read().Content)
	out, _ := other.line()
	assert.Equal(t, " ok", out)
	assert.Equal(t, "49  ok", other.run("7 sq ."))

	other.write(shared.Request{Type: shared.MessageTypeDelete, Content: "squares"})
	assert.Equal(t, " deleted squares", other.read().Content)
	other.write(shared.Request{Type: shared.MessageTypeDelete, Content: "squares"})
	assert.Contains(t, other.read().Content, store.ErrProgramNotFound.Error())
}

func TestWebSocketRejectsInvalidRequests(t *testing.T) {
	_, srv := newTestServer(t)
	c := dial(t, srv, "")
	c.handshake()

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":99}`)))
	assert.Contains(t, c.read().Content, ErrUnknownType.Error())

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":0,"bogus":1}`)))
	assert.Contains(t, c.read().Content, "invalid JSON")

	// The session is still usable
	assert.Equal(t, "1  ok", c.run("1 ."))
}

func TestWebSocketOriginCheck(t *testing.T) {
	_, srv := newTestServer(t)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	header = http.Header{"Origin": []string{"http://" + u.Host}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketSessionsPerIP(t *testing.T) {
	_, srv := newTestServer(t)

	for i := 0; i < 5; i++ {
		dial(t, srv, "").handshake()
	}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestValidateRequest(t *testing.T) {
	v := NewJSONValidator(16)

	req, err := v.ValidateRequest([]byte(`{"type":0,"content":"1\t2\r\n3\u0007"}`))
	require.NoError(t, err)
	assert.Equal(t, "1 2  3", req.Content)

	_, err = v.ValidateRequest([]byte(`{"type":0,"content":"` + strings.Repeat("x", 17) + `"}`))
	assert.ErrorIs(t, err, ErrJSONStringTooLong)

	_, err = v.ValidateRequest([]byte(`{"type":0,"content":"x"`))
	assert.Error(t, err)
}
