package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/werewolfserver/broadcast"
	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/monitor"
	"github.com/wfunc/werewolfserver/network"
	"github.com/wfunc/werewolfserver/services"
	"github.com/wfunc/werewolfserver/session"
	"github.com/wfunc/werewolfserver/timer"
)

var (
	ErrNotBound      = errors.New("session is not bound to a guild")
	ErrUnknownPacket = errors.New("unknown message type")
	ErrBadRequest    = errors.New("bad request")
)

const (
	defaultHeartbeat = 30 * time.Second
	// requestTimeout bounds one packet's manager call.
	requestTimeout = 10 * time.Second
)

// handlerFunc answers one packet. The result is marshalled into the reply.
type handlerFunc func(ctx context.Context, sess *session.Session, data []byte) (interface{}, error)

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	games          *services.GameService
	broadcaster    *broadcast.GuildBroadcaster
	monitor        *monitor.Monitor
	handlers       map[uint16]handlerFunc
	heartbeat      time.Duration
	httpServer     *http.Server
	scheduler      *timer.Scheduler
	mutex          sync.Mutex
	shutdownChan   chan struct{}
	closing        atomic.Bool
}

func NewGameServer(addr string, games *services.GameService, mon *monitor.Monitor) *GameServer {
	s := &GameServer{
		addr:           addr,
		sessionManager: session.NewManager(),
		games:          games,
		monitor:        mon,
		heartbeat:      defaultHeartbeat,
		scheduler:      timer.NewScheduler(),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.broadcaster = broadcast.NewGuildBroadcaster(s.sessionManager)
	s.handlers = s.routes()
	s.scheduler.Every(s.heartbeat, s.heartbeat, func() { s.reapIdle(time.Now()) })
	return s
}

// Handler serves /ws, /healthz and the monitor's /metrics and /debug/vars.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.monitor != nil {
		metrics := s.monitor.Handler()
		mux.Handle("/metrics", metrics)
		mux.Handle("/debug/vars", metrics)
	}
	return mux
}

func (s *GameServer) Start() error {
	s.mutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mutex.Unlock()

	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(s.shutdownChan)
	s.scheduler.Stop()

	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}

	s.mutex.Lock()
	srv := s.httpServer
	s.mutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// reapIdle closes sessions silent for two heartbeats and returns how many.
func (s *GameServer) reapIdle(now time.Time) int {
	cutoff := now.Add(-2 * s.heartbeat)
	closed := 0
	for _, sess := range s.sessionManager.All() {
		if sess.LastActive().Before(cutoff) {
			logger.Log.Infof("Closing idle session %s", sess.GetID())
			sess.Close()
			closed++
		}
	}
	return closed
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.closing.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"shutting_down"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)
	sess := session.NewSession("", wsConn)
	s.sessionManager.Add(sess)
	if s.monitor != nil {
		s.monitor.IncOnlineSessions()
	}

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		if s.monitor != nil {
			s.monitor.DecOnlineSessions()
		}
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	sess.Touch()
	if s.monitor != nil {
		s.monitor.IncMessagesReceived()
		defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()
	}

	if packet.MsgID == network.MsgTypeHeartbeat {
		return
	}

	handler, ok := s.handlers[packet.MsgID]
	var (
		result interface{}
		err    error
	)
	if !ok {
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		err = ErrUnknownPacket
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		result, err = handler(ctx, sess, packet.Data)
		cancel()
	}

	if err != nil {
		logger.Log.Debugw("request failed", "session_id", sess.GetID(), "msg_id", packet.MsgID, "error", err)
	}
	reply, encodeErr := network.NewResponse(result, err)
	if encodeErr != nil {
		logger.Log.Errorw("encode reply failed", "msg_id", packet.MsgID, "error", encodeErr)
		return
	}
	if err := sess.Send(packet.MsgID, reply); err != nil {
		logger.Log.Debugw("reply send failed", "session_id", sess.GetID(), "error", err)
	}
}

// decode unmarshals a request body; an empty body leaves v zero.
func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

func boundIdentity(sess *session.Session) (guildID, userID int64, err error) {
	guildID, userID, ok := sess.Identity()
	if !ok {
		return 0, 0, ErrNotBound
	}
	return guildID, userID, nil
}
