package castadapter

import (
	"encoding/json"
	"sync/atomic"

	"github.com/vishen/go-chromecast/cast"
)

// Request ID counter shared by every payload this package sends.
var requestIDCounter int32

func nextRequestID() int {
	return int(atomic.AddInt32(&requestIDCounter, 1))
}

// launchPayload asks the receiver to start an application.
type launchPayload struct {
	Type      string `json:"type"`
	RequestId int    `json:"requestId"`
	AppId     string `json:"appId"`
}

func (p *launchPayload) SetRequestId(id int) { p.RequestId = id }

// stopPayload asks the receiver to stop a running application.
type stopPayload struct {
	Type      string `json:"type"`
	RequestId int    `json:"requestId"`
	SessionId string `json:"sessionId"`
}

func (p *stopPayload) SetRequestId(id int) { p.RequestId = id }

// messagePayload carries an arbitrary caller value verbatim. The
// request id satisfies the SDK's payload contract without leaking
// into the serialized message.
type messagePayload struct {
	body      any
	requestID int
}

func (p *messagePayload) SetRequestId(id int) { p.requestID = id }

func (p *messagePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.body)
}

var (
	_ cast.Payload = (*launchPayload)(nil)
	_ cast.Payload = (*stopPayload)(nil)
	_ cast.Payload = (*messagePayload)(nil)
)
