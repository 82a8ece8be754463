package transport

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// commandFromRequest maps a wire request onto a core command. When the request
// is well-framed but unusable, the second result is the reply to send instead.
func commandFromRequest(req proto.Request) (core.Command, *core.Response) {
	switch req.Op {
	case proto.OpRegisterUser:
		var data proto.RegisterUserData
		if err := req.DecodeData(&data); err != nil {
			return nil, malformed(core.CommandRegisterUser)
		}
		return core.RegisterUser{Name: data.Username}, nil
	case proto.OpSendMessage:
		var data proto.SendMessageData
		if err := req.DecodeData(&data); err != nil {
			return nil, malformed(core.CommandSendMessage)
		}
		return core.SendMessage{Recipient: data.Recipient, Content: data.Content}, nil
	case proto.OpGetUsers:
		var data proto.GetUsersData
		if err := req.DecodeData(&data); err != nil {
			return nil, malformed(core.CommandGetUsers)
		}
		return core.GetUsers{Name: data.Username}, nil
	case proto.OpUpdateStatus:
		var data proto.UpdateStatusData
		if err := req.DecodeData(&data); err != nil {
			return nil, malformed(core.CommandUpdateStatus)
		}
		status, ok := core.ParseStatus(data.Status)
		if !ok {
			return nil, core.BadRequest(core.CommandUpdateStatus, core.ErrCodeBadRequest, "Invalid status")
		}
		return core.UpdateStatus{Name: data.Username, Status: status}, nil
	case proto.OpUnregisterUser:
		var data proto.UnregisterUserData
		if err := req.DecodeData(&data); err != nil {
			return nil, malformed(core.CommandUnregisterUser)
		}
		return core.UnregisterUser{Name: data.Username}, nil
	default:
		return nil, core.BadRequest(unknownOp, core.ErrCodeBadRequest, core.MsgUnknownOperation)
	}
}

const unknownOp core.CommandKind = -1

func malformed(op core.CommandKind) *core.Response {
	return core.BadRequest(op, core.ErrCodeBadRequest, core.MsgMalformed)
}

func opName(op core.CommandKind) string {
	switch op {
	case core.CommandRegisterUser:
		return proto.OpRegisterUser
	case core.CommandSendMessage:
		return proto.OpSendMessage
	case core.CommandGetUsers:
		return proto.OpGetUsers
	case core.CommandUpdateStatus:
		return proto.OpUpdateStatus
	case core.CommandUnregisterUser:
		return proto.OpUnregisterUser
	default:
		return "unknown"
	}
}

// responseToProto maps a core response onto the wire envelope.
func responseToProto(resp *core.Response) proto.Response {
	out := proto.Response{
		Op:      opName(resp.Op),
		Code:    proto.CodeOK,
		Message: resp.Message,
	}
	if resp.Code != core.CodeOK {
		out.Code = proto.CodeBadRequest
	}
	if resp.Error != nil {
		out.Error = &proto.Error{Code: resp.Error.Code, Msg: resp.Error.Message}
	}

	switch result := resp.Result.(type) {
	case core.UserList:
		entries := make([]proto.UserEntry, 0, len(result))
		for _, u := range result {
			entries = append(entries, proto.UserEntry{Username: u.Name, Status: u.Status.String()})
		}
		out.Result = mustMarshal(entries)
	case core.IncomingMessage:
		out.Op = proto.OpIncomingMessage
		out.Result = mustMarshal(proto.IncomingMessage{
			Sender:  result.Sender,
			Content: result.Content,
			Kind:    result.Kind.String(),
		})
	}
	return out
}

// mustMarshal encodes plain data structs, which cannot fail to marshal.
func mustMarshal(v any) jsoniter.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// EncodedSize is the length of resp's wire body, without framing.
func EncodedSize(resp *core.Response) int {
	raw, err := json.Marshal(responseToProto(resp))
	if err != nil {
		return 0
	}
	return len(raw)
}
