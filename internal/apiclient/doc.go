// Package apiclient performs authenticated requests against the ticketing backend.
//
// Every request reads the access token from a tokenstore.Store and sends it as a
// bearer token. A 401 answer triggers exactly one refresh through the backend's
// refresh endpoint followed by exactly one retry of the original request. When
// the refresh cannot produce a new access token the original 401 response is
// returned untouched, and the calling layer decides what a lost session means.
//
// # Requests
//
//	client, err := apiclient.New("https://tickets.example.com", store)
//	resp, err := client.Request(ctx, "/api/orders/my/", apiclient.Options{})
//	decoded := apiclient.SafeDecodeJSON(resp)
//	if decoded.Malformed() {
//		// server answered with something that is not JSON
//	}
//
// # Transport
//
// *Client implements http.RoundTripper, so the same refresh-and-retry behavior
// can authenticate an http.Client or a reverse proxy:
//
//	httpClient := &http.Client{Transport: client}
package apiclient
