package wire

import "time"

// Timite is any participant able to send and receive messages, human or agent.
type Timite struct {
	ID   uint64 `json:"id"`
	Nick string `json:"nick"`
}

// ClientInfo is self-reported by the client at registration time.
type ClientInfo struct {
	Platform string `json:"platform"`
}

// Session binds a connection to a timite identity. The key is an opaque
// secret; the server-side registry is authoritative, clients only hold a copy.
type Session struct {
	Key       string     `json:"key"`
	TimiteID  uint64     `json:"timiteId"`
	Nick      string     `json:"nick"`
	CreatedAt time.Time  `json:"createdAt"`
	Client    ClientInfo `json:"clientInfo"`
}

// EventKind discriminates SpaceEvent payloads.
type EventKind string

const (
	KindNewMessage         EventKind = "new-message"
	KindTimiteConnected    EventKind = "timite-connected"
	KindTimiteDisconnected EventKind = "timite-disconnected"
)

// Message is one accepted chat message within a space.
type Message struct {
	ID       uint64 `json:"id"`
	SenderID uint64 `json:"senderId"`
	Content  string `json:"content"`
}

// EventMetadata carries the per-space monotonic id and emission time.
type EventMetadata struct {
	ID        uint64    `json:"id"`
	EmittedAt time.Time `json:"emittedAt"`
}

// SpaceEvent is one entry of a space's timeline. ID is strictly increasing in
// append order within a space; an appended event is immutable.
type SpaceEvent struct {
	Metadata EventMetadata `json:"metadata"`
	Kind     EventKind     `json:"kind"`
	Message  *Message      `json:"message,omitempty"`
	Timite   *Timite       `json:"timite,omitempty"`
}

// SenderID returns the timite that caused the event, or 0 when the event has
// no sender (system-emitted).
func (e *SpaceEvent) SenderID() uint64 {
	switch e.Kind {
	case KindNewMessage:
		if e.Message != nil {
			return e.Message.SenderID
		}
	case KindTimiteConnected, KindTimiteDisconnected:
		if e.Timite != nil {
			return e.Timite.ID
		}
	}
	return 0
}

// --- Request/response bodies for the unary endpoints ---

type RegisterReq struct {
	Nick   string     `json:"nick"`
	Client ClientInfo `json:"clientInfo"`
}

type ConnectReq struct {
	Timite Timite     `json:"timite"`
	Client ClientInfo `json:"clientInfo"`
}

type SessionRes struct {
	Session Session `json:"session"`
}

type SendMessageReq struct {
	Space   string `json:"space"`
	Content string `json:"content"`
}

type TimelineRes struct {
	Offset  uint64       `json:"offset"`
	Size    uint32       `json:"size"`
	Events  []SpaceEvent `json:"events"`
	Timites []Timite     `json:"timites"`
}

// ErrorRes is the JSON body of every non-2xx response.
type ErrorRes struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
