package audio

import "errors"

var (
	ErrTransfer     = errors.New("audio transfer failed")
	ErrOverrun      = errors.New("capture overrun")
	ErrUnderrun     = errors.New("playback underrun")
	ErrPaused       = errors.New("stream paused")
	ErrInvalidRatio = errors.New("hardware rate is not an integer multiple of the sample rate")
	ErrBufferSize   = errors.New("buffer size does not match frame geometry")

	ErrCodecInit   = errors.New("codec init failed")
	ErrCodecClosed = errors.New("codec closed")
	ErrEncode      = errors.New("encode failed")
	ErrDecode      = errors.New("decode failed")
)
