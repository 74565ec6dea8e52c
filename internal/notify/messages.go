package notify

import (
	"github.com/goccy/go-json"

	"sai/internal/ledger"
)

const (
	MessageTargetPoints      = "points-update"
	MessageTargetLeaderboard = "leaderboard-update"
	MessageTargetError       = "error"
)

// WsResponseData is the frame written to websocket clients.
type WsResponseData struct {
	Target string      `json:"target"`
	Data   interface{} `json:"data"`
}

func EncodeSnapshot(snap ledger.Snapshot) ([]byte, error) {
	return json.Marshal(WsResponseData{Target: MessageTargetPoints, Data: snap})
}

func EncodeLeaderboard(delta ledger.LeaderboardDelta) ([]byte, error) {
	return json.Marshal(WsResponseData{Target: MessageTargetLeaderboard, Data: delta})
}

func EncodeError(code, message string) ([]byte, error) {
	return json.Marshal(WsResponseData{Target: MessageTargetError, Data: map[string]string{"code": code, "error": message}})
}
