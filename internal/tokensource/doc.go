// Package tokensource exchanges a stored refresh token for a new access token
// and persists the result.
//
// The backend's refresh endpoint is not a standard OAuth2 token endpoint: it takes
// a JSON body {"refresh": "<token>"} and answers {"access": "<token>"}. A response
// without a string "access" field counts as a failed refresh, whatever its status.
//
// # Token Sources
//
// Use New with the backend base URL and the credential store:
//
//	src, err := tokensource.New("https://tickets.example.com", store)
//	tok, err := src.Refresh(ctx)
//	// tok.AccessToken has already been written back to the store
//
// # Coalescing
//
// By default every caller performs its own refresh call. WithCoalescing shares one
// in-flight refresh between concurrent callers holding the same refresh token:
//
//	src, err := tokensource.New(baseURL, store, tokensource.WithCoalescing())
package tokensource
