package httpx

import "net/http"

// Client is the minimal transport used by the outbound clients. Both
// *http.Client and *FastHTTPClient satisfy it.
//
//go:generate mockery --name=Client --structname=MockHTTPClient --dir=. --output=./mocks --filename=http_client_mock.go --case=underscore
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}
