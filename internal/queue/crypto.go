package queue

import (
	"encoding/json"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
)

func marshalPayload(p payload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(b []byte) (payload, error) {
	var p payload
	err := json.Unmarshal(b, &p)
	return p, err
}

// payload is the subset of Message fields sealed as ciphertext; metadata required for queue
// management (ids, timestamps, flags) stays in cleartext.
type payload struct {
	Content     string `json:"content"`
	AuthorName  string `json:"author_name"`
	ChannelName string `json:"channel_name"`
}

func sealMessage(key [cryptobox.KeySize]byte, entityID string, m *Message) (*cryptobox.Sealed, error) {
	plaintext, err := marshalPayload(payload{
		Content:     m.Content,
		AuthorName:  m.AuthorName,
		ChannelName: m.ChannelName,
	})
	if err != nil {
		return nil, err
	}
	return cryptobox.Seal(key, []byte(entityID), plaintext)
}

func openMessage(key [cryptobox.KeySize]byte, entityID string, m *Message) (*Message, error) {
	plaintext, err := cryptobox.Open(key, []byte(entityID), m.Sealed)
	if err != nil {
		return nil, err
	}
	p, err := unmarshalPayload(plaintext)
	if err != nil {
		return nil, err
	}
	out := *m
	out.Sealed = nil
	out.Content = p.Content
	out.AuthorName = p.AuthorName
	out.ChannelName = p.ChannelName
	return &out, nil
}
