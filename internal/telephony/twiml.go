package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"callbilling/internal/calls"
)

const defaultFallbackMessage = "We are unable to connect your call right now. Goodbye."

type ControlAction string

const (
	ControlDial      ControlAction = "dial"
	ControlSayHangup ControlAction = "say_hangup"
	ControlHangup    ControlAction = "hangup"
)

// ControlResponse is the provider-agnostic instruction for the live call.
type ControlResponse struct {
	Action ControlAction

	Destination          string
	CallerID             string
	RecordingCallbackURL string

	Message string
}

// ControlInput is everything BuildControlResponse looks at. Call is nil when
// the webhook could not be resolved to a record.
type ControlInput struct {
	Call  *calls.Call
	Event Event

	Destination          string
	CallerID             string
	RecordingCallbackURL string
	FallbackMessage      string
}

// BuildControlResponse decides the next instruction for a call. Status and
// recording callbacks, and terminal statuses, always hang up. A voice webhook
// bridges to the destination with recording, or announces and hangs up when
// the call or destination is unknown.
func BuildControlResponse(in ControlInput) ControlResponse {
	if in.Event.Kind != EventVoice {
		return ControlResponse{Action: ControlHangup}
	}
	if st, ok := MapStatus(in.Event.CallStatus); ok && st.IsTerminal() {
		return ControlResponse{Action: ControlHangup}
	}
	if in.Call != nil && in.Call.Status.IsTerminal() {
		return ControlResponse{Action: ControlHangup}
	}

	dest := strings.TrimSpace(in.Destination)
	if in.Call == nil || dest == "" {
		msg := in.FallbackMessage
		if msg == "" {
			msg = defaultFallbackMessage
		}
		return ControlResponse{Action: ControlSayHangup, Message: msg}
	}

	return ControlResponse{
		Action:               ControlDial,
		Destination:          dest,
		CallerID:             in.CallerID,
		RecordingCallbackURL: in.RecordingCallbackURL,
	}
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName                      xml.Name    `xml:"Dial"`
	CallerID                     string      `xml:"callerId,attr,omitempty"`
	Record                       string      `xml:"record,attr"`
	RecordingStatusCallback      string      `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackEvent string      `xml:"recordingStatusCallbackEvent,attr,omitempty"`
	Number                       twimlNumber `xml:"Number"`
}

type twimlNumber struct {
	Value string `xml:",chardata"`
}

// Render maps a ControlResponse to TwiML. Every document ends in <Hangup/>.
func Render(res ControlResponse) (string, error) {
	var r twimlResponse

	switch res.Action {
	case ControlDial:
		if strings.TrimSpace(res.Destination) == "" {
			return "", errors.New("telephony: destination required for dial action")
		}
		d := twimlDial{
			CallerID:                res.CallerID,
			Record:                  "record-from-answer",
			RecordingStatusCallback: res.RecordingCallbackURL,
			Number:                  twimlNumber{Value: res.Destination},
		}
		if d.RecordingStatusCallback != "" {
			d.RecordingStatusCallbackEvent = "completed"
		}
		r.Verbs = append(r.Verbs, d, twimlHangup{})
	case ControlSayHangup:
		r.Verbs = append(r.Verbs, twimlSay{Text: res.Message}, twimlHangup{})
	case ControlHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	default:
		return "", errors.New("telephony: unknown control action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HangupTwiML is the static document used when rendering itself fails.
const HangupTwiML = xml.Header + "<Response><Hangup></Hangup></Response>"
