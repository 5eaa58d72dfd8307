package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wfunc/werewolfserver/monitor"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/persistence"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/tally"
)

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	pushes []*network.Packet
}

func newTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	games := services.NewGameService(services.Options{Store: persistence.NewMemoryStore()})
	gs := NewGameServer(":0", games, monitor.NewMonitor("test", prometheus.NewRegistry()))
	srv := httptest.NewServer(gs.Handler())
	t.Cleanup(srv.Close)
	return gs, srv
}

func dial(t *testing.T, srv *httptest.Server, guildID, userID int64) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}
	if resp := c.call(network.MsgTypeBind, bindRequest{GuildID: guildID, UserID: userID}); !resp.OK {
		t.Fatalf("bind failed: %s", resp.Error)
	}
	return c
}

func (c *testClient) send(msgID uint16, body interface{}) {
	c.t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		c.t.Fatal(err)
	}
	frame, err := network.EncodeFrame(msgID, data)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) read() *network.Packet {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	packet, err := network.DecodeFrame(data)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return packet
}

// call sends a request and waits for its reply, keeping pushes that arrive first.
func (c *testClient) call(msgID uint16, body interface{}) network.Response {
	c.t.Helper()
	c.send(msgID, body)
	for {
		packet := c.read()
		if packet.MsgID != msgID {
			c.pushes = append(c.pushes, packet)
			continue
		}
		var resp network.Response
		if err := json.Unmarshal(packet.Data, &resp); err != nil {
			c.t.Fatalf("reply: %v", err)
		}
		return resp
	}
}

// push returns the next server push with msgID.
func (c *testClient) push(msgID uint16) *network.Packet {
	c.t.Helper()
	for i, p := range c.pushes {
		if p.MsgID == msgID {
			c.pushes = append(c.pushes[:i], c.pushes[i+1:]...)
			return p
		}
	}
	for {
		packet := c.read()
		if packet.MsgID == msgID {
			return packet
		}
	}
}

func TestGameServer_FullRound(t *testing.T) {
	_, srv := newTestServer(t)
	p1 := dial(t, srv, 42, 1)
	p2 := dial(t, srv, 42, 2)
	p3 := dial(t, srv, 42, 3)

	resp := p1.call(network.MsgTypeCreateGame, struct{}{})
	if !resp.OK {
		t.Fatalf("create: %s", resp.Error)
	}
	var created gameRequest
	_ = json.Unmarshal(resp.Data, &created)

	for _, c := range []*testClient{p1, p2, p3} {
		if resp := c.call(network.MsgTypeJoinGame, created); !resp.OK {
			t.Fatalf("join: %s", resp.Error)
		}
	}
	if resp := p1.call(network.MsgTypeStartGame, created); !resp.OK {
		t.Fatalf("start: %s", resp.Error)
	}

	if resp := p1.call(network.MsgTypeCastVote, voteRequest{GameID: created.GameID, TargetID: 2}); !resp.OK {
		t.Fatalf("vote 1->2: %s", resp.Error)
	}
	if resp := p3.call(network.MsgTypeCastVote, voteRequest{GameID: created.GameID, TargetID: 2}); !resp.OK {
		t.Fatalf("vote 3->2: %s", resp.Error)
	}
	if resp := p2.call(network.MsgTypeCastVote, voteRequest{GameID: created.GameID, TargetID: 2}); resp.OK || !strings.HasPrefix(resp.Error, "self vote") {
		t.Errorf("self vote should fail, got %+v", resp)
	}

	resp = p2.call(network.MsgTypeAdvancePhase, created)
	if !resp.OK {
		t.Fatalf("advance: %s", resp.Error)
	}
	var result services.AdvanceResult
	_ = json.Unmarshal(resp.Data, &result)
	if !result.Applied || result.DayPhase || result.DayNumber != 1 {
		t.Errorf("Unexpected advance result: %+v", result)
	}
	want := tally.Ranking{{TargetID: 2, Votes: 2}}
	if len(result.Ranking) != 1 || result.Ranking[0] != want[0] {
		t.Errorf("Ranking = %+v, want %+v", result.Ranking, want)
	}

	// every session in the guild hears about the new phase
	var pushed services.AdvanceResult
	if err := json.Unmarshal(p3.push(network.MsgTypePhaseChanged).Data, &pushed); err != nil {
		t.Fatal(err)
	}
	if pushed.DayPhase || pushed.DayNumber != 1 {
		t.Errorf("Pushed phase = %+v", pushed)
	}
}

func TestGameServer_Errors(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	unbound := &testClient{t: t, conn: conn}

	if resp := unbound.call(network.MsgTypeCreateGame, struct{}{}); resp.OK || resp.Error != ErrNotBound.Error() {
		t.Errorf("Unbound create should fail with ErrNotBound, got %+v", resp)
	}
	if resp := unbound.call(999, struct{}{}); resp.OK || resp.Error != ErrUnknownPacket.Error() {
		t.Errorf("Unknown id should fail, got %+v", resp)
	}

	c := dial(t, srv, 7, 1)
	if resp := c.call(network.MsgTypeRetractVote, gameRequest{GameID: 404}); resp.OK || !strings.HasPrefix(resp.Error, "game not found") {
		t.Errorf("Expected game not found, got %+v", resp)
	}
	if resp := c.call(network.MsgTypeSetupServer, setupRequest{}); resp.OK || !strings.HasPrefix(resp.Error, "invalid server config") {
		t.Errorf("Expected invalid config, got %+v", resp)
	}
}

func TestGameServer_HealthAndMetrics(t *testing.T) {
	gs, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "test_online_sessions") {
		t.Error("/metrics should expose online_sessions")
	}

	if err := gs.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz after shutdown = %d", resp.StatusCode)
	}
}

func TestGameServer_ReapIdle(t *testing.T) {
	gs, srv := newTestServer(t)
	c := dial(t, srv, 1, 1)

	if n := gs.reapIdle(time.Now()); n != 0 {
		t.Fatalf("fresh session reaped: %d", n)
	}
	if n := gs.reapIdle(time.Now().Add(3 * gs.heartbeat)); n != 1 {
		t.Fatalf("reapIdle = %d, want 1", n)
	}

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.conn.ReadMessage(); err == nil {
		t.Error("reaped connection should be closed")
	}
}
