package protocol

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrUnknownOp reports an operation code outside the defined set. It is
// a protocol error: the connection has no recovery semantics for it and
// must be terminated.
var ErrUnknownOp = errors.New("unknown operation code")

// Message is a single protocol message. Marshal returns the full
// payload including the leading op code; the channel adds the length
// header.
type Message interface {
	Op() Op
	Marshal() []byte
}

// CreateUserRequest asks the server to register a new user.
type CreateUserRequest struct {
	Username string
	Password string
}

// CreateUserResponse reports whether registration succeeded.
type CreateUserResponse struct {
	OK bool
}

// LoginRequest asks the server to verify credentials.
type LoginRequest struct {
	Username string
	Password string
}

// LoginResponse reports whether the login succeeded.
type LoginResponse struct {
	OK bool
}

// ListVideosRequest asks for the available video identifiers.
type ListVideosRequest struct{}

// ListVideosResponse carries the available video identifiers. It is
// followed by one ThumbnailMessage per video.
type ListVideosResponse struct {
	Videos []string
}

// ThumbnailMessage carries one video's JPEG thumbnail.
type ThumbnailMessage struct {
	Video string
	Image []byte
}

// VideoDetailsRequest asks for a video's playback parameters.
type VideoDetailsRequest struct {
	Video string
}

// VideoDetailsResponse carries fps and total frame count. Both are
// floats on the wire; frame counts from media containers are not
// guaranteed to be exact integers.
type VideoDetailsResponse struct {
	FPS        float64
	FrameCount float64
}

// FrameRequest asks for the next frame of the video. Epoch tags the
// request so that responses straddling a seek can be told apart.
type FrameRequest struct {
	Video string
	Epoch uint32
}

// FrameResponse carries one JPEG-encoded frame, echoing the request
// epoch.
type FrameResponse struct {
	Epoch uint32
	Image []byte
}

// SeekRequest repositions the server-side cursor.
type SeekRequest struct {
	Video string
	Index uint64
}

// SeekResponse acknowledges a seek with the accepted frame index.
type SeekResponse struct {
	Index uint64
}

// EndOfStream tells the client the cursor is exhausted: no frame will
// be sent for this or any further request in the given epoch.
type EndOfStream struct {
	Epoch uint32
}

func (*CreateUserRequest) Op() Op     { return OpCreateUser }
func (*CreateUserResponse) Op() Op    { return OpCreateUser }
func (*LoginRequest) Op() Op          { return OpLogin }
func (*LoginResponse) Op() Op         { return OpLogin }
func (*ListVideosRequest) Op() Op     { return OpListVideos }
func (*ListVideosResponse) Op() Op    { return OpListVideos }
func (*ThumbnailMessage) Op() Op      { return OpThumbnail }
func (*VideoDetailsRequest) Op() Op   { return OpVideoDetails }
func (*VideoDetailsResponse) Op() Op  { return OpVideoDetails }
func (*FrameRequest) Op() Op          { return OpRequestFrame }
func (*FrameResponse) Op() Op         { return OpRequestFrame }
func (*SeekRequest) Op() Op           { return OpSeek }
func (*SeekResponse) Op() Op          { return OpSeek }
func (*EndOfStream) Op() Op           { return OpEndOfStream }

// Field encoding: strings are u16-length prefixed, byte blobs are
// u32-length prefixed, floats are IEEE-754 BigEndian, bools one byte.

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendFloat64(buf []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}

func (m *CreateUserRequest) Marshal() []byte {
	buf := []byte{byte(OpCreateUser)}
	buf = appendString(buf, m.Username)
	return appendString(buf, m.Password)
}

func (m *CreateUserResponse) Marshal() []byte {
	return appendBool([]byte{byte(OpCreateUser)}, m.OK)
}

func (m *LoginRequest) Marshal() []byte {
	buf := []byte{byte(OpLogin)}
	buf = appendString(buf, m.Username)
	return appendString(buf, m.Password)
}

func (m *LoginResponse) Marshal() []byte {
	return appendBool([]byte{byte(OpLogin)}, m.OK)
}

func (m *ListVideosRequest) Marshal() []byte {
	return []byte{byte(OpListVideos)}
}

func (m *ListVideosResponse) Marshal() []byte {
	buf := []byte{byte(OpListVideos)}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Videos)))
	for _, v := range m.Videos {
		buf = appendString(buf, v)
	}
	return buf
}

func (m *ThumbnailMessage) Marshal() []byte {
	buf := []byte{byte(OpThumbnail)}
	buf = appendString(buf, m.Video)
	return appendBytes(buf, m.Image)
}

func (m *VideoDetailsRequest) Marshal() []byte {
	return appendString([]byte{byte(OpVideoDetails)}, m.Video)
}

func (m *VideoDetailsResponse) Marshal() []byte {
	buf := appendFloat64([]byte{byte(OpVideoDetails)}, m.FPS)
	return appendFloat64(buf, m.FrameCount)
}

func (m *FrameRequest) Marshal() []byte {
	buf := appendString([]byte{byte(OpRequestFrame)}, m.Video)
	return binary.BigEndian.AppendUint32(buf, m.Epoch)
}

func (m *FrameResponse) Marshal() []byte {
	buf := binary.BigEndian.AppendUint32([]byte{byte(OpRequestFrame)}, m.Epoch)
	return appendBytes(buf, m.Image)
}

func (m *SeekRequest) Marshal() []byte {
	buf := appendString([]byte{byte(OpSeek)}, m.Video)
	return binary.BigEndian.AppendUint64(buf, m.Index)
}

func (m *SeekResponse) Marshal() []byte {
	return binary.BigEndian.AppendUint64([]byte{byte(OpSeek)}, m.Index)
}

func (m *EndOfStream) Marshal() []byte {
	return binary.BigEndian.AppendUint32([]byte{byte(OpEndOfStream)}, m.Epoch)
}

// reader is a bounds-checked cursor over a payload. The first decode
// failure sticks; done reports it.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = errors.Errorf("payload truncated at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) string() string {
	b := r.take(2)
	if r.err != nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *reader) bytes() []byte {
	b := r.take(4)
	if r.err != nil {
		return nil
	}
	out := r.take(int(binary.BigEndian.Uint32(b)))
	if r.err != nil {
		return nil
	}
	// Copy out of the receive buffer; frames outlive the read.
	return append([]byte(nil), out...)
}

func (r *reader) bool() bool {
	b := r.take(1)
	return r.err == nil && b[0] != 0
}

func (r *reader) float64() float64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return errors.Errorf("%d trailing bytes after payload", len(r.data)-r.off)
	}
	return nil
}

// UnmarshalMessage decodes a payload according to the receiver's role.
// Unknown operation codes return ErrUnknownOp.
func UnmarshalMessage(role int, data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, errors.New("empty payload")
	}
	op := Op(data[0])
	r := &reader{data: data, off: 1}

	var msg Message
	if role == RoleServer {
		switch op {
		case OpCreateUser:
			msg = &CreateUserRequest{Username: r.string(), Password: r.string()}
		case OpLogin:
			msg = &LoginRequest{Username: r.string(), Password: r.string()}
		case OpListVideos:
			msg = &ListVideosRequest{}
		case OpVideoDetails:
			msg = &VideoDetailsRequest{Video: r.string()}
		case OpRequestFrame:
			msg = &FrameRequest{Video: r.string(), Epoch: r.uint32()}
		case OpSeek:
			msg = &SeekRequest{Video: r.string(), Index: r.uint64()}
		default:
			return nil, errors.Wrapf(ErrUnknownOp, "code %d", data[0])
		}
	} else {
		switch op {
		case OpCreateUser:
			msg = &CreateUserResponse{OK: r.bool()}
		case OpLogin:
			msg = &LoginResponse{OK: r.bool()}
		case OpListVideos:
			n := int(r.uint16())
			videos := make([]string, 0, n)
			for i := 0; i < n; i++ {
				videos = append(videos, r.string())
			}
			msg = &ListVideosResponse{Videos: videos}
		case OpThumbnail:
			msg = &ThumbnailMessage{Video: r.string(), Image: r.bytes()}
		case OpVideoDetails:
			msg = &VideoDetailsResponse{FPS: r.float64(), FrameCount: r.float64()}
		case OpRequestFrame:
			msg = &FrameResponse{Epoch: r.uint32(), Image: r.bytes()}
		case OpSeek:
			msg = &SeekResponse{Index: r.uint64()}
		case OpEndOfStream:
			msg = &EndOfStream{Epoch: r.uint32()}
		default:
			return nil, errors.Wrapf(ErrUnknownOp, "code %d", data[0])
		}
	}

	if err := r.done(); err != nil {
		return nil, errors.Wrapf(err, "decode %s", op)
	}
	return msg, nil
}
