package httpclient

import (
	"io"
	"net/http"
	"time"
)

// Client is the outbound HTTP surface shared by the identity client and the
// event trigger. Both take the interface so tests can substitute a stub
// transport.
type Client interface {
	Post(url, contentType string, body io.Reader) (*http.Response, error)
	Do(req *http.Request) (*http.Response, error)
}

type standardClient struct {
	client *http.Client
}

// NewStandardClient returns a Client over net/http with a timeout that
// bounds every identity and webhook call the gateway makes.
func NewStandardClient() Client {
	return &standardClient{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *standardClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	return c.client.Post(url, contentType, body)
}

func (c *standardClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
