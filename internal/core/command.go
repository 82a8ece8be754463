package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegisterUser claims a display name for the session.
	CommandRegisterUser CommandKind = iota
	// CommandSendMessage delivers a broadcast or direct message.
	CommandSendMessage
	// CommandGetUsers lists all users or looks up one by name.
	CommandGetUsers
	// CommandUpdateStatus changes the session's presence.
	CommandUpdateStatus
	// CommandUnregisterUser logs the user out and closes the session.
	CommandUnregisterUser
)

func (k CommandKind) String() string {
	switch k {
	case CommandRegisterUser:
		return "register_user"
	case CommandSendMessage:
		return "send_message"
	case CommandGetUsers:
		return "get_users"
	case CommandUpdateStatus:
		return "update_status"
	case CommandUnregisterUser:
		return "unregister_user"
	default:
		return "unknown"
	}
}

// Command is a decoded client request. Exactly one of the concrete types below
// implements it per operation.
type Command interface {
	Kind() CommandKind
}

// RegisterUser asks to bind Name to the calling session.
type RegisterUser struct {
	Name string
}

// SendMessage carries chat content. An empty Recipient means broadcast.
type SendMessage struct {
	Recipient string
	Content   string
}

// GetUsers lists presence. An empty Name means every user.
type GetUsers struct {
	Name string
}

// UpdateStatus sets the caller's presence.
type UpdateStatus struct {
	Name   string
	Status Status
}

// UnregisterUser is a graceful logout.
type UnregisterUser struct {
	Name string
}

func (RegisterUser) Kind() CommandKind   { return CommandRegisterUser }
func (SendMessage) Kind() CommandKind    { return CommandSendMessage }
func (GetUsers) Kind() CommandKind       { return CommandGetUsers }
func (UpdateStatus) Kind() CommandKind   { return CommandUpdateStatus }
func (UnregisterUser) Kind() CommandKind { return CommandUnregisterUser }
