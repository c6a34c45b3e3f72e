package envelope

import (
	"github.com/goccy/go-json"
)

type subscribeEnvelope struct {
	Subscribe string `json:"subscribe"`
}

type publishEnvelope struct {
	Publish string `json:"publish"`
	Channel string `json:"channel"`
}

type authenticateEnvelope struct {
	Authenticate string  `json:"authenticate"`
	Token        *string `json:"token"`
}

type presenceEnvelope struct {
	Presence string `json:"presence"`
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Subscribe encodes a subscription request for channel.
func Subscribe(channel string) (string, error) {
	return encode(subscribeEnvelope{Subscribe: channel})
}

// Publish encodes message for channel. The message is serialized to JSON and
// sent as a string, which the server forwards verbatim to subscribers.
func Publish(channel string, message any) (string, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return "", err
	}
	return encode(publishEnvelope{Publish: string(body), Channel: channel})
}

// Authenticate encodes credentials. An empty token is sent as null.
func Authenticate(userID, token string) (string, error) {
	env := authenticateEnvelope{Authenticate: userID}
	if token != "" {
		env.Token = &token
	}
	return encode(env)
}

// PresenceQuery encodes a request for the subscribers of channel.
func PresenceQuery(channel string) (string, error) {
	return encode(presenceEnvelope{Presence: channel})
}
