package progress

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// ErrStreamTruncated is returned when the connection ends before a terminal
// event arrived.
var ErrStreamTruncated = errors.New("progress stream ended before terminal event")

// FrameReader is the read side of a websocket connection.
type FrameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// FrameWriter is the write side of a websocket connection.
type FrameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Stream decodes events from websocket frames, one JSON event per text
// frame.
type Stream struct {
	r    FrameReader
	done bool
}

func NewStream(r FrameReader) *Stream {
	return &Stream{r: r}
}

// Next returns the next event. After the terminal event it returns io.EOF.
// A frame that does not decode is an error wrapping ErrMalformed.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	for {
		typ, data, err := s.r.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return Event{}, ErrStreamTruncated
			}
			return Event{}, fmt.Errorf("read progress frame: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		e, err := Decode(data)
		if err != nil {
			return Event{}, err
		}
		if e.Terminal() {
			s.done = true
		}
		return e, nil
	}
}

// Forward writes every event of sub to w until the subscription ends or ctx
// is done. It returns nil once the terminal event was written.
func Forward(ctx context.Context, sub *Subscription, w FrameWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return ErrStreamTruncated
			}
			data, err := Encode(e)
			if err != nil {
				return err
			}
			if err := w.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write progress frame: %w", err)
			}
			if e.Terminal() {
				return nil
			}
		}
	}
}
