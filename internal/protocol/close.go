package protocol

// Close codes and reasons sent in the WebSocket close handshake.  Clients
// use them to tell a failed session apart from an ordinary disconnect.
const (
	CloseNormal            = 1000 // websocket.CloseNormalClosure
	CloseSessionInitFailed = 1011 // websocket.CloseInternalServerErr
	CloseSessionBusy       = 1013 // websocket.CloseTryAgainLater

	ReasonSessionInitFailed = "Session initialization failed."
	ReasonSessionBusy       = "Another session is active."
	ReasonSessionEnded      = "Session ended."
	ReasonServerShutdown    = "Server shutting down."
)
