// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"

	"github.com/wfunc/werewolfserver/logger"
	"github.com/wfunc/werewolfserver/session"
)

// 广播接口
type Broadcaster interface {
	BroadcastToGuild(guildID int64, msgID uint16, data []byte) int
	BroadcastToUsers(userIDs []int64, msgID uint16, data []byte) int
	BroadcastToAll(msgID uint16, data []byte) int
}

// GuildBroadcaster fans packets out to the sessions bound to a guild. Each
// method returns how many sessions accepted the packet.
type GuildBroadcaster struct {
	sessionManager *session.Manager
}

func NewGuildBroadcaster(sessionManager *session.Manager) *GuildBroadcaster {
	return &GuildBroadcaster{sessionManager: sessionManager}
}

func (b *GuildBroadcaster) BroadcastToGuild(guildID int64, msgID uint16, data []byte) int {
	return send(b.sessionManager.GetByGuild(guildID), msgID, data)
}

func (b *GuildBroadcaster) BroadcastToUsers(userIDs []int64, msgID uint16, data []byte) int {
	sent := 0
	for _, userID := range userIDs {
		sent += send(b.sessionManager.GetByUserID(userID), msgID, data)
	}
	return sent
}

func (b *GuildBroadcaster) BroadcastToAll(msgID uint16, data []byte) int {
	return send(b.sessionManager.All(), msgID, data)
}

// PublishJSON marshals v and sends it to the guild.
func (b *GuildBroadcaster) PublishJSON(guildID int64, msgID uint16, v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorw("broadcast marshal failed", "guild_id", guildID, "msg_id", msgID, "error", err)
		return 0
	}
	return b.BroadcastToGuild(guildID, msgID, data)
}

func send(sessions []*session.Session, msgID uint16, data []byte) int {
	sent := 0
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// the read loop owns the session and will drop it
			logger.Log.Debugw("broadcast send failed", "session_id", s.ID, "msg_id", msgID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
