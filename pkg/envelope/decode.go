package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// Parse decodes an inbound payload holding one envelope or an array of envelopes.
//
// Envelopes come back in payload order. Objects without a "type" field and
// objects of unknown type are skipped silently. Array elements that cannot be
// decoded are skipped too; the well-formed ones are still returned alongside
// an error wrapping ErrMalformed.
func Parse(payload []byte) ([]Envelope, error) {
	data := bytes.TrimSpace(payload)
	value, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch typ {
	case jsonparser.Object:
		env, ok, err := parseObject(value)
		if err != nil || !ok {
			return nil, err
		}
		return []Envelope{env}, nil
	case jsonparser.Array:
		var (
			out  []Envelope
			errs []error
		)
		_, err := jsonparser.ArrayEach(value, func(elem []byte, elemType jsonparser.ValueType, _ int, err error) {
			if err != nil {
				errs = append(errs, err)
				return
			}
			if elemType != jsonparser.Object {
				errs = append(errs, fmt.Errorf("%w: array element is %s", ErrMalformed, elemType))
				return
			}
			env, ok, err := parseObject(elem)
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				out = append(out, env)
			}
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrMalformed, err))
		}
		return out, errors.Join(errs...)
	default:
		return nil, fmt.Errorf("%w: payload is %s", ErrMalformed, typ)
	}
}

// parseObject decodes one envelope object. ok is false for objects that are skipped.
func parseObject(obj []byte) (env Envelope, ok bool, err error) {
	typ, err := jsonparser.GetString(obj, "type")
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, fmt.Errorf("%w: type: %w", ErrMalformed, err)
	}

	switch typ {
	case TypeMessage:
		m, err := parseMessage(obj)
		if err != nil {
			return Envelope{}, false, err
		}
		return Envelope{Type: typ, Message: m}, true, nil
	case TypePresence:
		p, err := parsePresence(obj)
		if err != nil {
			return Envelope{}, false, err
		}
		return Envelope{Type: typ, Presence: p}, true, nil
	case TypeInfo:
		var info Info
		if err := json.Unmarshal(obj, &info); err != nil {
			return Envelope{}, false, fmt.Errorf("%w: info: %w", ErrMalformed, err)
		}
		return Envelope{Type: typ, Info: info}, true, nil
	default:
		return Envelope{}, false, nil
	}
}

func parseMessage(obj []byte) (*Message, error) {
	m := &Message{}
	m.Channel, _ = jsonparser.GetString(obj, "channel")

	if value, typ, _, err := jsonparser.Get(obj, "from_server"); err == nil {
		switch typ {
		case jsonparser.Boolean:
			m.FromServer, _ = jsonparser.ParseBoolean(value)
		case jsonparser.String:
			s, _ := jsonparser.ParseString(value)
			m.FromServer = s == "true"
		}
	}

	if value, typ, _, err := jsonparser.Get(obj, "user_id"); err == nil {
		switch typ {
		case jsonparser.String:
			m.UserID, _ = jsonparser.ParseString(value)
		case jsonparser.Number:
			m.UserID = string(value)
		}
	}

	if value, typ, _, err := jsonparser.Get(obj, "user_data"); err == nil && typ != jsonparser.Null {
		raw, err := rawValue(value, typ)
		if err != nil {
			return nil, fmt.Errorf("%w: user_data: %w", ErrMalformed, err)
		}
		m.UserData = raw
	}

	value, typ, _, err := jsonparser.Get(obj, "message")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
	case err != nil:
		return nil, fmt.Errorf("%w: message: %w", ErrMalformed, err)
	case typ == jsonparser.String:
		// The body is published as a JSON document inside a string.
		inner, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: message: %w", ErrMalformed, err)
		}
		if json.Valid([]byte(inner)) {
			m.Body = json.RawMessage(inner)
		} else {
			m.Body, _ = json.Marshal(inner)
		}
	case typ != jsonparser.Null:
		m.Body, err = rawValue(value, typ)
		if err != nil {
			return nil, fmt.Errorf("%w: message: %w", ErrMalformed, err)
		}
	}

	return m, nil
}

func parsePresence(obj []byte) (*Presence, error) {
	p := &Presence{}
	p.Channel, _ = jsonparser.GetString(obj, "channel")

	_, err := jsonparser.ArrayEach(obj, func(value []byte, typ jsonparser.ValueType, _ int, _ error) {
		if typ == jsonparser.String {
			s, _ := jsonparser.ParseString(value)
			p.Subscribers = append(p.Subscribers, s)
			return
		}
		p.Subscribers = append(p.Subscribers, string(value))
	}, "subscribers")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("%w: subscribers: %w", ErrMalformed, err)
	}
	return p, nil
}

// rawValue turns a value returned by jsonparser back into standalone JSON.
// jsonparser strips the quotes of strings, so those are re-encoded.
func rawValue(value []byte, typ jsonparser.ValueType) (json.RawMessage, error) {
	if typ == jsonparser.String {
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	}
	return append(json.RawMessage(nil), value...), nil
}
