package telephony

import (
	"net/http"
	"strings"

	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhook requests whose X-Twilio-Signature does
// not match the public URL and POST parameters. publicBaseURL must be the
// scheme and host Twilio was given, since proxies rewrite the request URL.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	validator := client.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")

	return func(c *gin.Context) {
		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			logger.FromGin(c).Warn("twilio webhook without signature", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		if !validator.Validate(base+c.Request.URL.RequestURI(), params, sig) {
			logger.FromGin(c).Warn("twilio webhook signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
