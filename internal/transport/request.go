package transport

// Request represents a request to the console WebSocket API, which is
// generally a map of string keys to any values, marshalled to a JSON
// object when sent through the WebSocket.
type Request map[string]any

// WithMsgID creates a new request by adding or setting the message ID.
func (r Request) WithMsgID(msgID string) Request {
	r["msgID"] = msgID
	return r
}

// NewAuthRequest creates an authentication request.
func NewAuthRequest(token string) Request {
	return Request{
		"method": "auth",
		"token":  token,
	}
}

// NewGetRequest creates a get request.
func NewGetRequest(path string) Request {
	return Request{
		"method": "get",
		"path":   path,
	}
}

// NewSetRequest creates a set request.
func NewSetRequest(path string, payload any) Request {
	return Request{
		"method":  "set",
		"path":    path,
		"payload": payload,
	}
}

// NewSubscribeRequest creates a subscribe request. The console will start
// sending update notifications for any value at or below the path.
func NewSubscribeRequest(path string) Request {
	return Request{
		"method": "subscribe",
		"path":   path,
	}
}

// NewUnsubscribeRequest creates an unsubscribe request.
func NewUnsubscribeRequest(path string) Request {
	return Request{
		"method": "unsubscribe",
		"path":   path,
	}
}
