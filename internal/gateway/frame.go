package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/voice-recap/internal/session"
)

var (
	// ErrBadFrame is wrapped by every decode failure.
	ErrBadFrame = errors.New("malformed voice frame")
	// ErrUnsupportedFrame covers ping/pong/close and unknown message types.
	ErrUnsupportedFrame = errors.New("unsupported frame type")
)

// controlFrame is the JSON body of a text frame.
type controlFrame struct {
	Type        string `json:"type"`
	SpeakerID   string `json:"speaker_id"`
	DisplayName string `json:"display_name"`
}

var controlKinds = map[string]session.EventKind{
	"join":           session.EventJoin,
	"leave":          session.EventLeave,
	"speaking_start": session.EventSpeakingStart,
	"speaking_end":   session.EventSpeakingEnd,
}

// decodeFrame turns one websocket message into a session event.
//
// Text frames carry a JSON control message. Binary frames are
// [1 byte id length N][N bytes speaker id][PCM payload].
func decodeFrame(messageType int, data []byte) (session.Event, error) {
	switch messageType {
	case websocket.TextMessage:
		var cf controlFrame
		if err := json.Unmarshal(data, &cf); err != nil {
			return session.Event{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		kind, ok := controlKinds[cf.Type]
		if !ok {
			return session.Event{}, fmt.Errorf("%w: unknown control type %q", ErrBadFrame, cf.Type)
		}
		if cf.SpeakerID == "" {
			return session.Event{}, fmt.Errorf("%w: speaker_id is required", ErrBadFrame)
		}
		return session.Event{Kind: kind, SpeakerID: cf.SpeakerID, DisplayName: cf.DisplayName}, nil

	case websocket.BinaryMessage:
		if len(data) < 1 {
			return session.Event{}, fmt.Errorf("%w: empty audio frame", ErrBadFrame)
		}
		n := int(data[0])
		if n == 0 || len(data) < 1+n {
			return session.Event{}, fmt.Errorf("%w: speaker id length %d exceeds frame", ErrBadFrame, n)
		}
		return session.Event{
			Kind:      session.EventAudio,
			SpeakerID: string(data[1 : 1+n]),
			Audio:     data[1+n:],
		}, nil

	default:
		return session.Event{}, ErrUnsupportedFrame
	}
}

// EncodeAudioFrame builds a binary audio frame. Speaker ids longer than 255
// bytes are rejected.
func EncodeAudioFrame(speakerID string, pcm []byte) ([]byte, error) {
	if speakerID == "" || len(speakerID) > 255 {
		return nil, fmt.Errorf("%w: speaker id must be 1-255 bytes", ErrBadFrame)
	}
	out := make([]byte, 0, 1+len(speakerID)+len(pcm))
	out = append(out, byte(len(speakerID)))
	out = append(out, speakerID...)
	out = append(out, pcm...)
	return out, nil
}
