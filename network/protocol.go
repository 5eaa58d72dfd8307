package network

// 消息ID. A request is answered with a packet carrying the same id and a
// Response body; ids from 400 up are server pushes.
const (
	MsgTypeHeartbeat = 1
	// MsgTypeBind ties the connection to a guild and user.
	MsgTypeBind = 100

	MsgTypeGetGame     = 101
	MsgTypeCreateGame  = 102
	MsgTypeJoinGame    = 103
	MsgTypeLeaveGame   = 104
	MsgTypeStartGame   = 105
	MsgTypeEndGame     = 106
	MsgTypeRefreshGame = 107

	MsgTypeCastVote     = 201
	MsgTypeRetractVote  = 202
	MsgTypeGetTally     = 203
	MsgTypeAdvancePhase = 204
	MsgTypeEliminate    = 205
	MsgTypeListPlayers  = 206
	MsgTypeAlivePlayers = 207

	MsgTypeGetServerConfig = 301
	MsgTypeSetupServer     = 302

	MsgTypePhaseChanged = 401
	MsgTypeGameEvent    = 402
)
