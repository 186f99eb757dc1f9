package srs

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/sippy/Sippy-Recorder/internal/body"
	"github.com/sippy/Sippy-Recorder/internal/relay"
)

const sessionName = "Sippy SRS"

// answerAttributes is the attribute allow-list for answered sections;
// everything else offered (directions, candidates, ...) is dropped.
var answerAttributes = []string{"label", "rtpmap", "ptime"}

// AnswerEncoder synthesizes the receive-only answer body from the
// negotiated relay addresses. The origin line is generated once per process
// and shared by every answer, with the session version bumped per call.
// One encoder serves all calls, so the origin is guarded.
type AnswerEncoder struct {
	mu     sync.Mutex
	origin sdp.Origin
}

func NewAnswerEncoder(localAddr string) *AnswerEncoder {
	if localAddr == "" {
		localAddr = "127.0.0.1"
	}
	return &AnswerEncoder{
		origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localAddr,
		},
	}
}

// Encode builds the answer for the offered sections, in offer order. Every
// section must have a negotiated result; a missing index is a contract
// violation by the caller and is reported as an error rather than a panic.
//
// Sections are mutated in place: relay address and port substituted, format
// list cut down to its first entry, attributes reduced to the allow-list
// plus a recvonly marker.
func (e *AnswerEncoder) Encode(sections []*body.Section, negotiated map[int]relay.UpdateResult) ([]byte, error) {
	e.mu.Lock()
	origin := e.origin
	e.origin.SessionVersion++
	e.mu.Unlock()

	sd := &sdp.SessionDescription{
		Version:     0,
		Origin:      origin,
		SessionName: sdp.SessionName(sessionName),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, sect := range sections {
		res, ok := negotiated[sect.Index]
		if !ok {
			return nil, fmt.Errorf("no negotiated result for section %d", sect.Index)
		}

		sect.Address = res.Address
		sect.Port = res.Port
		if len(sect.Formats) > 1 {
			sect.Formats = sect.Formats[:1]
		}
		sect.FilterAttributes(answerAttributes...)
		sect.Attributes = append(sect.Attributes, body.Attribute{Name: "recvonly"})

		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   sect.Media,
				Port:    sdp.RangedPort{Value: sect.Port},
				Protos:  sect.Protos,
				Formats: sect.Formats,
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: sect.Address},
			},
		}
		for _, a := range sect.Attributes {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: a.Name, Value: a.Value})
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	return sd.Marshal()
}
