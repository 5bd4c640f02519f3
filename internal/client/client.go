// Package client sends module requests to the server and feeds the
// responses through a router.Router.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"groupcal/internal/envelope"
	appLog "groupcal/internal/log"
	"groupcal/internal/router"
)

// Request is one outgoing envelope and the handlers waiting for its modules.
type Request struct {
	bus      *envelope.Builder
	handlers []pending
}

type pending struct {
	id      string
	handler router.ResponseHandler
}

func NewRequest() *Request {
	return &Request{bus: envelope.NewBuilder()}
}

// Add queues an action for a new instance of moduleName and returns the
// generated module id. h receives the response; it may be nil.
func (r *Request) Add(moduleName, actionType string, data any, h router.ResponseHandler) string {
	id := moduleName + "-" + uuid.NewString()
	r.AddWithID(moduleName, id, actionType, data, h)
	return id
}

// AddWithID queues an action for module id. The handler of the first call
// for an id is kept.
func (r *Request) AddWithID(moduleName, id, actionType string, data any, h router.ResponseHandler) {
	r.bus.Add(moduleName, id, actionType, data)
	if h == nil {
		return
	}
	for _, p := range r.handlers {
		if p.id == id {
			return
		}
	}
	r.handlers = append(r.handlers, pending{id: id, handler: h})
}

// Client posts requests to the module endpoint.
type Client struct {
	endpoint   string
	router     *router.Router
	httpClient *http.Client
	username   string
	password   string
	language   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBasicAuth(username, password string) Option {
	return func(c *Client) { c.username, c.password = username, password }
}

// WithLanguage sets the Accept-Language sent with every request.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// New returns a Client posting to endpoint (e.g. http://host/api/modules).
func New(endpoint string, r *router.Router, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		router:     r,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send registers the request's handlers, posts it and routes the response.
// Transport failures are routed to the handlers as well and returned.
func (c *Client) Send(ctx context.Context, req *Request) error {
	body, err := req.bus.Bytes()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	sent, err := envelope.Decode(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	reg := c.router.Registry()
	for i, p := range req.handlers {
		if err := reg.Register(p.id, p.handler); err != nil {
			for _, done := range req.handlers[:i] {
				reg.Remove(done.id)
			}
			return fmt.Errorf("register %s: %w", p.id, err)
		}
	}

	env, err := c.post(ctx, body)
	if err != nil {
		c.router.ReceiveFailure(sent, err)
		return err
	}
	c.router.Receive(env)
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*envelope.Envelope, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &router.TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	if c.language != "" {
		httpReq.Header.Set("Accept-Language", c.language)
	}

	appLog.Debug("client: sending request", "endpoint", c.endpoint, "bytes", len(body))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &router.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &router.TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &router.TransportError{StatusCode: resp.StatusCode, Body: respBody}
	}

	env, err := router.DecodeBatch(respBody)
	if err != nil {
		return nil, &router.TransportError{StatusCode: resp.StatusCode, Body: respBody, Err: err}
	}
	return env, nil
}
