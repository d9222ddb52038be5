package telephony

import (
	"net/url"
	"strings"
)

const (
	PathVoiceWebhook     = "/webhooks/twilio/voice"
	PathStatusWebhook    = "/webhooks/twilio/status"
	PathRecordingWebhook = "/webhooks/twilio/recording"

	// CallTokenParam is the query parameter holding the signed call token.
	CallTokenParam = "ct"
)

// CallbackURLs builds the public webhook URLs handed to the provider.
type CallbackURLs struct {
	base string
}

func NewCallbackURLs(publicBaseURL string) CallbackURLs {
	return CallbackURLs{base: strings.TrimRight(publicBaseURL, "/")}
}

func (u CallbackURLs) Voice(token string) string     { return u.build(PathVoiceWebhook, token) }
func (u CallbackURLs) Status(token string) string    { return u.build(PathStatusWebhook, token) }
func (u CallbackURLs) Recording(token string) string { return u.build(PathRecordingWebhook, token) }

func (u CallbackURLs) build(path, token string) string {
	if token == "" {
		return u.base + path
	}
	return u.base + path + "?" + url.Values{CallTokenParam: {token}}.Encode()
}
