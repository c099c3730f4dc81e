package whatsapp

import (
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go/client"
)

const signatureHeader = "X-Twilio-Signature"

// ValidateSignature checks the X-Twilio-Signature of a parsed form request.
func ValidateSignature(r *http.Request, authToken string) bool {
	signature := r.Header.Get(signatureHeader)
	if signature == "" || authToken == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	validator := client.NewRequestValidator(authToken)
	return validator.Validate(absoluteURL(r), params, signature)
}

// absoluteURL rebuilds the URL Twilio called, honouring proxy headers.
func absoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
