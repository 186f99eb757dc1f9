package events

import (
	"github.com/titanous/json5"
)

// Event is one decoded inbound admin message, identified by its id field.
type Event struct {
	Id  string
	raw []byte
}

func Decode(message []byte) *Event {
	m := make(map[string]interface{})
	if err := json5.Unmarshal(message, &m); err != nil {
		return &Event{}
	}
	id, _ := m["id"].(string)
	return &Event{Id: id, raw: message}
}

func (e *Event) IsValid() bool {
	return e.Id != ""
}

func (e *Event) GetRecorderStatus() *GetRecorderStatus {
	if e.Id != "getRecorderStatus" {
		return nil
	}
	s := GetRecorderStatus{}
	if err := json5.Unmarshal(e.raw, &s); err != nil {
		return nil
	}
	return &s
}

func (e *Event) ListCalls() *ListCalls {
	if e.Id != "listCalls" {
		return nil
	}
	s := ListCalls{}
	if err := json5.Unmarshal(e.raw, &s); err != nil {
		return nil
	}
	return &s
}
