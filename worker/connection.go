package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// SendRequest is one outbound message handed to the gateway.
type SendRequest struct {
	SenderID  uint   `json:"-"`
	Recipient string `json:"to"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
}

// SenderConnection is the opaque per-account messaging channel. The
// engine does not manage protocol sessions or reconnects; it only asks
// whether an account is usable and hands messages over.
type SenderConnection interface {
	IsConnected(ctx context.Context, senderID uint) bool
	// Send delivers one message. Failures should wrap the classifier
	// sentinels where the gateway's response allows it.
	Send(ctx context.Context, req SendRequest) error
}

// GatewayConnection talks to the messaging gateway over its HTTP API.
type GatewayConnection struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
}

func NewGatewayConnection(baseURL, apiKey string) *GatewayConnection {
	return &GatewayConnection{
		client: &fasthttp.Client{
			MaxIdleConnDuration: time.Minute,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (g *GatewayConnection) IsConnected(ctx context.Context, senderID uint) bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/v1/senders/%d/status", g.baseURL, senderID))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	if err := g.do(ctx, req, resp); err != nil {
		return false
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return false
	}
	var status struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return false
	}
	return status.Connected
}

func (g *GatewayConnection) Send(ctx context.Context, sendReq SendRequest) error {
	body, err := json.Marshal(sendReq)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/v1/senders/%d/messages", g.baseURL, sendReq.SenderID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.SetBody(body)

	if err := g.do(ctx, req, resp); err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}

	switch code := resp.StatusCode(); code {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
		return nil
	case fasthttp.StatusNotFound, fasthttp.StatusGone, fasthttp.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", ErrInvalidRecipient, code)
	case fasthttp.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, code)
	case fasthttp.StatusUnauthorized, fasthttp.StatusConflict, fasthttp.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", ErrSenderDisconnected, code)
	default:
		return fmt.Errorf("gateway returned status %d", code)
	}
}

// do honors the context deadline; fasthttp has no native context support.
func (g *GatewayConnection) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return g.client.DoDeadline(req, resp, deadline)
	}
	return g.client.Do(req, resp)
}
