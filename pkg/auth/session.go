package auth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

const mojangSessionServer = "https://sessionserver.mojang.com"

// Profile is the session server's answer for an authenticated player.
type Profile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Property is one signed profile property ("textures" carries the skin).
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// StatusError is returned when the session server answers anything but 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("session server returned HTTP status code %d", e.Code)
}

// SessionClient queries the Mojang session server.
type SessionClient struct {
	baseURL string
	client  *fasthttp.Client
}

// NewSessionClient returns a client against the Mojang session server.
func NewSessionClient() *SessionClient {
	return NewSessionClientWithURL(mojangSessionServer)
}

// NewSessionClientWithURL returns a client against a custom base URL, such
// as a Yggdrasil-compatible session server.
func NewSessionClientWithURL(baseURL string) *SessionClient {
	return &SessionClient{
		baseURL: baseURL,
		client: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// HasJoined asks the session server whether the named client committed to
// this server hash. Non-200 statuses come back as *StatusError.
func (c *SessionClient) HasJoined(username, serverHash string) (*Profile, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf(
		"%s/session/minecraft/hasJoined?username=%s&serverId=%s",
		c.baseURL, url.QueryEscape(username), url.QueryEscape(serverHash)))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("session server request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode()}
	}

	var profile Profile
	if err := json.Unmarshal(resp.Body(), &profile); err != nil {
		return nil, fmt.Errorf("decode session server response: %w", err)
	}
	return &profile, nil
}
