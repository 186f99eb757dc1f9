package events

import (
	"github.com/AlekSi/pointer"
	"github.com/sippy/Sippy-Recorder/internal/srs"
)

/*
callConnected (SRS -> operator)
```JSON5
{
	id: 'callConnected',
	callId: <String>,
	caller: <String>,
	callee: <String>,
	sections: <Number>, // negotiated media sections
}
```
*/

type CallConnected struct {
	Id       string `json:"id,omitempty"`
	CallId   string `json:"callId,omitempty"`
	Caller   string `json:"caller,omitempty"`
	Callee   string `json:"callee,omitempty"`
	Sections int    `json:"sections,omitempty"`
}

func NewCallConnected(info srs.Info) *CallConnected {
	return &CallConnected{
		Id:       "callConnected",
		CallId:   info.CallID,
		Caller:   info.CallerID,
		Callee:   info.CalleeID,
		Sections: info.Sections,
	}
}

/*
callFailed (SRS -> operator)
```JSON5
{
	id: 'callFailed',
	callId: <String>,
	code: <Number>, // SIP response code
	error: <String>,
}
```
*/

type CallFailed struct {
	Id     string  `json:"id,omitempty"`
	CallId string  `json:"callId,omitempty"`
	Code   int     `json:"code,omitempty"`
	Error  *string `json:"error,omitempty"`
}

func NewCallFailed(callId string, code int, reason string) *CallFailed {
	return &CallFailed{
		Id:     "callFailed",
		CallId: callId,
		Code:   code,
		Error:  pointer.ToString(reason),
	}
}

/*
callEnded (SRS -> operator)
```JSON5
{
	id: 'callEnded',
	callId: <String>,
}
```
*/

type CallEnded struct {
	Id     string `json:"id,omitempty"`
	CallId string `json:"callId,omitempty"`
}

func NewCallEnded(callId string) *CallEnded {
	return &CallEnded{Id: "callEnded", CallId: callId}
}

/*
getRecorderStatus (operator -> SRS)
```JSON5
{
	id: 'getRecorderStatus',
}
```
*/

type GetRecorderStatus struct {
	Id string `json:"id,omitempty"`
}

/*
recorderStatus (SRS -> operator)
```JSON5
{
	id: 'recorderStatus',
	appVersion: <String>,
	instanceId: <String>,
	activeCalls: <Number>,
}
```
*/

type RecorderStatus struct {
	Id          string `json:"id,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
	InstanceId  string `json:"instanceId,omitempty"`
	ActiveCalls int    `json:"activeCalls"`
}

func NewRecorderStatus(version, instanceId string, activeCalls int) *RecorderStatus {
	return &RecorderStatus{
		Id:          "recorderStatus",
		AppVersion:  version,
		InstanceId:  instanceId,
		ActiveCalls: activeCalls,
	}
}

/*
listCalls (operator -> SRS)
```JSON5
{
	id: 'listCalls',
}
```
*/

type ListCalls struct {
	Id string `json:"id,omitempty"`
}

/*
activeCalls (SRS -> operator)
```JSON5
{
	id: 'activeCalls',
	calls: [<call snapshot>],
}
```
*/

type ActiveCalls struct {
	Id    string     `json:"id"`
	Calls []srs.Info `json:"calls"`
}

func NewActiveCalls(calls []srs.Info) *ActiveCalls {
	return &ActiveCalls{Id: "activeCalls", Calls: calls}
}
