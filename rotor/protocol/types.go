package protocol

type MessageType uint8

const (
	// MessageTypeData carries one encoded crypto.Message.
	MessageTypeData MessageType = 1
	// MessageTypeClose announces that the sender will not send more frames.
	MessageTypeClose MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeData:
		return "DATA"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
