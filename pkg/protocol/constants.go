package protocol

// Op identifies a protocol operation. The same code is used for a
// request and its response; the decoding role determines the payload
// shape.
type Op uint8

const (
	OpCreateUser Op = iota + 1
	OpLogin
	OpListVideos
	OpVideoDetails
	OpRequestFrame
	OpSeek
	OpThumbnail
	OpEndOfStream
)

func (o Op) String() string {
	switch o {
	case OpCreateUser:
		return "create-user"
	case OpLogin:
		return "login"
	case OpListVideos:
		return "list-videos"
	case OpVideoDetails:
		return "video-details"
	case OpRequestFrame:
		return "request-frame"
	case OpSeek:
		return "seek"
	case OpThumbnail:
		return "thumbnail"
	case OpEndOfStream:
		return "end-of-stream"
	}
	return "unknown"
}

// Role definitions. The role selects which payload shapes a channel
// decodes: the server decodes requests, the client decodes responses.
const (
	RoleClient = iota
	RoleServer
)

const (
	// HeaderLength is the width of the ASCII decimal length prefix.
	HeaderLength = 10

	// MaxPayloadSize bounds a single message payload. A JPEG frame is
	// well under this; anything larger is a corrupt or hostile header.
	MaxPayloadSize = 16 << 20
)
