package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/werewolfserver/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	mu   sync.Mutex
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestNewSession_GeneratesID(t *testing.T) {
	a := NewSession("", &MockConnection{})
	b := NewSession("", &MockConnection{})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("Expected distinct generated ids, got %q and %q", a.ID, b.ID)
	}
	if NewSession("fixed", &MockConnection{}).ID != "fixed" {
		t.Error("An explicit id should be kept")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sess := NewSession("test_session_1", &MockConnection{})

	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	got, exists := manager.Get(sess.ID)
	if !exists || got != sess {
		t.Fatal("Get should return the added session")
	}

	manager.Remove(sess.ID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}
	if _, exists := manager.Get(sess.ID); exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByGuildAndUser(t *testing.T) {
	manager := NewManager()

	sess1 := NewSession("session1", &MockConnection{})
	sess1.Bind(42, 100)
	sess2 := NewSession("session2", &MockConnection{})
	sess2.Bind(42, 200)
	sess3 := NewSession("session3", &MockConnection{})
	sess3.Bind(7, 100)
	unbound := NewSession("session4", &MockConnection{})

	for _, s := range []*Session{sess1, sess2, sess3, unbound} {
		manager.Add(s)
	}

	if got := len(manager.GetByGuild(42)); got != 2 {
		t.Errorf("Expected 2 sessions in guild 42, got %d", got)
	}
	if got := len(manager.GetByGuild(0)); got != 0 {
		t.Errorf("Unbound sessions must not match guild 0, got %d", got)
	}
	if got := len(manager.GetByUserID(100)); got != 2 {
		t.Errorf("Expected 2 sessions for user 100, got %d", got)
	}
	if got := len(manager.GetByUserID(300)); got != 0 {
		t.Errorf("Expected 0 sessions for user 300, got %d", got)
	}
}

func TestSession_BindAndSend(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s", conn)

	if _, _, ok := sess.Identity(); ok {
		t.Fatal("New session should be unbound")
	}
	sess.Bind(42, 1)
	guild, user, ok := sess.Identity()
	if !ok || guild != 42 || user != 1 {
		t.Errorf("Identity() = %d, %d, %v", guild, user, ok)
	}

	before := sess.LastActive()
	time.Sleep(time.Millisecond)
	if err := sess.Send(network.MsgTypePhaseChanged, nil); err != nil {
		t.Fatal(err)
	}
	if !sess.LastActive().After(before) {
		t.Error("Send should refresh LastActive")
	}
	if len(conn.sent) != 1 || conn.sent[0] != network.MsgTypePhaseChanged {
		t.Errorf("Unexpected sends: %v", conn.sent)
	}
}
