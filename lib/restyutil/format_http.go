package restyutil

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// 1: request method
// 2: request url
// 3: request headers ("Key: Value" lines)
// 4: response status
// 5: response headers
// 6: response body
const transcriptTemplate = `---- REQUEST ----

%s %s

%s

---- RESPONSE ----

%s

%s

%s`

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func formatTranscript(res *resty.Response) string {
	// RawRequest is nil when the request never left the client
	reqHeaders := http.Header{}
	if res.Request.RawRequest != nil {
		reqHeaders = res.Request.RawRequest.Header
	}

	return fmt.Sprintf(
		transcriptTemplate,
		res.Request.Method, res.Request.URL,
		formatHeaders(reqHeaders),
		res.Status(),
		formatHeaders(res.Header()),
		res.String(),
	)
}
