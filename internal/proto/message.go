package proto

import jsoniter "github.com/json-iterator/go"

// ProtocolVersion is bumped on incompatible wire changes.
const ProtocolVersion = 1

// Request operations.
const (
	OpRegisterUser   = "register_user"
	OpSendMessage    = "send_message"
	OpGetUsers       = "get_users"
	OpUpdateStatus   = "update_status"
	OpUnregisterUser = "unregister_user"

	// OpIncomingMessage tags notifications pushed to message recipients.
	OpIncomingMessage = "incoming_message"
)

// Response codes.
const (
	CodeOK         = "ok"
	CodeBadRequest = "bad_request"
)

// Message kinds.
const (
	KindBroadcast = "broadcast"
	KindDirect    = "direct"
)

// Request is the envelope for messages coming from the client. Data holds the
// payload matching Op.
type Request struct {
	Op   string              `json:"op"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

// RegisterUserData claims a display name.
type RegisterUserData struct {
	Username string `json:"username"`
}

// SendMessageData carries chat content; an empty recipient broadcasts.
type SendMessageData struct {
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
}

// GetUsersData looks up one user, or everyone when Username is empty.
type GetUsersData struct {
	Username string `json:"username,omitempty"`
}

// UpdateStatusData sets the caller's presence (online, busy, offline).
type UpdateStatusData struct {
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
}

// UnregisterUserData is sent on logout.
type UnregisterUserData struct {
	Username string `json:"username,omitempty"`
}

// Response is the envelope for messages sent to the client. Result holds a
// []UserEntry for get_users or an IncomingMessage for incoming_message.
type Response struct {
	Op      string              `json:"op"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Error   *Error              `json:"error,omitempty"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
}

// UserEntry is one user in a listing.
type UserEntry struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// IncomingMessage is pushed to recipients of a chat message.
type IncomingMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

// Error describes a request failure.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRequest builds a request envelope with data marshaled as its payload.
func NewRequest(op string, data any) (Request, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Request{}, err
	}
	return Request{Op: op, Data: raw}, nil
}

// DecodeData unmarshals the request payload into v.
func (r Request) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Data, v)
}

// Users decodes a get_users result.
func (r Response) Users() ([]UserEntry, error) {
	var users []UserEntry
	if len(r.Result) == 0 {
		return users, nil
	}
	err := json.Unmarshal(r.Result, &users)
	return users, err
}

// Incoming decodes an incoming_message result.
func (r Response) Incoming() (IncomingMessage, error) {
	var msg IncomingMessage
	err := json.Unmarshal(r.Result, &msg)
	return msg, err
}
