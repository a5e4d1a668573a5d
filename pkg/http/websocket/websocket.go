// Package websocket wraps gorilla/websocket connections in an
// io.ReadWriter with a keepalive ping, which is what the event watch
// endpoint streams JSON over.
package websocket

import (
	"io"

	"github.com/gorilla/websocket"
)

// Websocket exposes the bits of *websocket.Conn we actually use. Note
// that we are emulating an `io.ReadWriter`, so that stream codecs
// (json.Encoder, json.Decoder) work on top of it.
type Websocket interface {
	io.Reader
	io.Writer
	Close() error
}

// IsExpectedWSCloseError returns boolean indicating whether the error
// is a clean disconnection.
func IsExpectedWSCloseError(err error) bool {
	return err == io.EOF || err == io.ErrClosedPipe || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
