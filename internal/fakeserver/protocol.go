package fakeserver

import (
	"github.com/goccy/go-json"
)

// request is any client envelope. Exactly one of the operation fields is set.
type request struct {
	Subscribe    *string `json:"subscribe"`
	Publish      *string `json:"publish"`
	Channel      string  `json:"channel"`
	Authenticate *string `json:"authenticate"`
	Token        *string `json:"token"`
	Presence     *string `json:"presence"`
}

type outboundMessage struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	FromServer bool   `json:"from_server,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Message    string `json:"message"`
}

type outboundPresence struct {
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	Subscribers []string `json:"subscribers"`
}

func decodeRequest(payload string, req *request) error {
	return json.Unmarshal([]byte(payload), req)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// mustEncode is for server-built values, which always encode.
func mustEncode(v any) string {
	s, err := encode(v)
	if err != nil {
		panic(err)
	}
	return s
}
