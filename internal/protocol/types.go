package protocol

// MessageType distinguishes new requests from responses.
type MessageType string

const (
	TypeMessage MessageType = "message"
	TypeReply   MessageType = "reply"
)

func (t MessageType) Valid() bool {
	return t == TypeMessage || t == TypeReply
}

// RelayCommand is the relay-level verb wrapping an envelope.
type RelayCommand string

const (
	CmdVerifyListening RelayCommand = "verify-listening"
	CmdRouteMessage    RelayCommand = "route-message"
)
