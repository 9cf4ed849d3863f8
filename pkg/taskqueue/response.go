package taskqueue

import (
	"net/http"
)

// Response is the serialized form of an outbound HTTP response. It is
// the payload handed to callback sub-tasks.
type Response struct {
	URL        string            `json:"url"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Content    string            `json:"content"`
	History    []*Response       `json:"history"`
	Reason     string            `json:"reason"`
}

// wrapResponse flattens an http.Response into its wire form. body is
// the drained response body; the redirect history is rebuilt from the
// request/response chain net/http leaves behind when following
// redirects (those intermediate bodies are already consumed, so their
// content is empty).
func wrapResponse(resp *http.Response, body []byte) *Response {
	r := wrapSingle(resp, body)

	var history []*Response
	for prior := resp.Request.Response; prior != nil; prior = prior.Request.Response {
		history = append([]*Response{wrapSingle(prior, nil)}, history...)
	}
	r.History = history
	return r
}

func wrapSingle(resp *http.Response, body []byte) *Response {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Content:    latin1String(body),
		History:    []*Response{},
		Reason:     http.StatusText(resp.StatusCode),
	}
}

// latin1String maps each byte to the code point of the same value, so
// arbitrary binary bodies survive JSON transport and can be decoded
// back byte-exactly.
func latin1String(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
