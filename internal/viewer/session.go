package viewer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/screenshare/backend/internal/frame"
)

type State int

const (
	PendingCode State = iota
	PendingApproval
	Authorized
	Streaming
	Closed
)

var stateNames = map[State]string{
	PendingCode:     "pending_code",
	PendingApproval: "pending_approval",
	Authorized:      "authorized",
	Streaming:       "streaming",
	Closed:          "closed",
}

var stateFromName = map[string]State{
	"pending_code":     PendingCode,
	"pending_approval": PendingApproval,
	"authorized":       Authorized,
	"streaming":        Streaming,
	"closed":           Closed,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := stateFromName[name]
	if !ok {
		return fmt.Errorf("unknown viewer state %q", name)
	}
	*s = v
	return nil
}

// Session is the server-side record of one viewer's admission and delivery
// state. FramesSent is owned exclusively by that viewer's delivery loop.
type Session struct {
	ID         string     `json:"id"`
	RemoteAddr string     `json:"remoteAddr"`
	State      State      `json:"state"`
	Quality    frame.Tier `json:"quality"`
	FramesSent uint64     `json:"framesSent"`
	StartedAt  time.Time  `json:"startedAt"`
}
