package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/werewolfserver/network"
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame, err := network.EncodeFrame(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, frame)
}

type command struct {
	msgID uint16
	// args names the numeric fields filled from the command line, in order.
	args []string
}

var commands = map[string]command{
	"game":    {network.MsgTypeGetGame, nil},
	"refresh": {network.MsgTypeRefreshGame, nil},
	"create":  {network.MsgTypeCreateGame, nil},
	"join":    {network.MsgTypeJoinGame, []string{"game_id"}},
	"leave":   {network.MsgTypeLeaveGame, []string{"game_id"}},
	"start":   {network.MsgTypeStartGame, []string{"game_id"}},
	"end":     {network.MsgTypeEndGame, []string{"game_id"}},
	"vote":    {network.MsgTypeCastVote, []string{"game_id", "target_id"}},
	"retract": {network.MsgTypeRetractVote, []string{"game_id"}},
	"tally":   {network.MsgTypeGetTally, []string{"game_id"}},
	"advance": {network.MsgTypeAdvancePhase, []string{"game_id"}},
	"kill":    {network.MsgTypeEliminate, []string{"game_id", "user_id"}},
	"players": {network.MsgTypeListPlayers, []string{"game_id"}},
	"alive":   {network.MsgTypeAlivePlayers, []string{"game_id"}},
	"config":  {network.MsgTypeGetServerConfig, nil},
}

// parse turns "vote 7 3" into a message id and JSON body.
func parse(line string) (uint16, interface{}, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, nil, false
	}

	if fields[0] == "setup" {
		if len(fields) != 3 {
			return 0, nil, false
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, nil, false
		}
		return network.MsgTypeSetupServer, map[string]interface{}{"prefix": fields[1], "starting_number": n}, true
	}

	cmd, ok := commands[fields[0]]
	if !ok || len(fields)-1 != len(cmd.args) {
		return 0, nil, false
	}
	body := make(map[string]int64, len(cmd.args))
	for i, name := range cmd.args {
		v, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return 0, nil, false
		}
		body[name] = v
	}
	return cmd.msgID, body, true
}

func main() {
	addr := flag.String("addr", "localhost:8080", "game server address")
	guild := flag.Int64("guild", 1, "guild id")
	user := flag.Int64("user", 1, "user id")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodeFrame(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		}
	}()

	if err := send(c, network.MsgTypeBind, map[string]int64{"guild_id": *guild, "user_id": *user}); err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Client started. Commands: create, join <game>, start <game>, vote <game> <target>, retract <game>, tally <game>, advance <game>, players <game>, end <game>, setup <prefix> <n>")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line := <-lines:
			msgID, body, ok := parse(line)
			if !ok {
				log.Printf("Unrecognized command: %q", line)
				continue
			}
			if err := send(c, msgID, body); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT (ID: %d)", msgID)
		}
	}
}
