package core

// StatusCode is the outcome carried by every response.
type StatusCode int

const (
	// CodeOK marks a successful request.
	CodeOK StatusCode = iota
	// CodeBadRequest marks a validation or protocol failure.
	CodeBadRequest
)

func (c StatusCode) String() string {
	if c == CodeOK {
		return "ok"
	}
	return "bad_request"
}

// MessageKind distinguishes broadcast from direct delivery.
type MessageKind int

const (
	// MessageBroadcast was sent to every active user.
	MessageBroadcast MessageKind = iota
	// MessageDirect was addressed to one user.
	MessageDirect
)

func (k MessageKind) String() string {
	if k == MessageDirect {
		return "direct"
	}
	return "broadcast"
}

// Result is the optional payload of a Response.
type Result interface {
	isResult()
}

// UserInfo is one entry of a user listing.
type UserInfo struct {
	Name   string
	Status Status
}

// UserList answers GetUsers.
type UserList []UserInfo

// IncomingMessage is pushed to recipients of SendMessage.
type IncomingMessage struct {
	Sender  string
	Content string
	Kind    MessageKind
}

func (UserList) isResult()         {}
func (IncomingMessage) isResult() {}

// Response is sent to clients either as a reply or as an asynchronous notification.
type Response struct {
	// Op is the command this answers. Notifications carry CommandSendMessage.
	Op      CommandKind
	Code    StatusCode
	Message string
	Result  Result
	// Error is set for CodeBadRequest replies.
	Error *CoreError
}

// IsNotification reports whether the response is a pushed incoming message.
func (r *Response) IsNotification() bool {
	_, ok := r.Result.(IncomingMessage)
	return ok
}

func okResponse(op CommandKind, msg string, result Result) *Response {
	return &Response{Op: op, Code: CodeOK, Message: msg, Result: result}
}

func badRequest(op CommandKind, err *CoreError) *Response {
	return &Response{Op: op, Code: CodeBadRequest, Message: err.Message, Error: err}
}

// BadRequest builds a failure reply for op with the given code and message.
func BadRequest(op CommandKind, code, msg string) *Response {
	return badRequest(op, coreError(code, msg))
}

// Notification wraps an incoming message for delivery. The content travels
// only in the result.
func Notification(msg IncomingMessage) *Response {
	return &Response{Op: CommandSendMessage, Code: CodeOK, Message: MsgIncoming, Result: msg}
}
