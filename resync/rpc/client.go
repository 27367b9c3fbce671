package rpc

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/maxjustus/garage/resync"
)

// PeerResolver maps a NodeID to the base URL its RPC endpoints are served
// from, and names candidate peers to ask for a block this node lacks.
// Discovery of both belongs to the replication/topology layer (spec §1
// Non-goals: "cluster membership"); this package only consumes it.
type PeerResolver interface {
	URL(id resync.NodeID) (string, error)
	// Candidates returns peers worth asking for a block this node needs
	// but doesn't have, in preference order (spec §4.6.1 "Fetch").
	Candidates(id resync.BlockID) []resync.NodeID
}

// Client is the default resync.Rpc implementation: HTTP fan-out over
// fasthttp, one goroutine per peer, quorum-aware via errgroup.
type Client struct {
	http     *fasthttp.Client
	resolver PeerResolver
}

func NewClient(resolver PeerResolver) *Client {
	return &Client{
		http:     &fasthttp.Client{Name: "garage-resync"},
		resolver: resolver,
	}
}

var _ resync.Rpc = (*Client)(nil)

// CallMany fans msg out to every peer and waits for all replies.
func (c *Client) CallMany(ctx context.Context, endpoint string, peers []resync.NodeID, msg any, strategy resync.RequestStrategy) ([]resync.Reply, error) {
	return c.callMany(ctx, endpoint, peers, msg, 0)
}

// TryCallMany is CallMany but abandons the fan-out (via context
// cancellation propagated to still-pending calls) as soon as too many
// peers have failed for strategy.Quorum to still be reachable.
func (c *Client) TryCallMany(ctx context.Context, endpoint string, peers []resync.NodeID, msg any, strategy resync.RequestStrategy) ([]resync.Reply, error) {
	return c.callMany(ctx, endpoint, peers, msg, strategy.Quorum)
}

func (c *Client) callMany(ctx context.Context, endpoint string, peers []resync.NodeID, msg any, quorum int) ([]resync.Reply, error) {
	var body []byte
	if frame, ok := msg.(rawFrame); ok {
		body = frame
	} else {
		encoded, err := encodeMessage(msg)
		if err != nil {
			return nil, err
		}
		body = encoded
	}

	replies := make([]resync.Reply, len(peers))
	var failed int64

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			reply := c.post(gctx, endpoint, peer, body)
			replies[i] = reply
			if reply.Err != nil && quorum > 0 {
				stillFailed := atomic.AddInt64(&failed, 1)
				if len(peers)-int(stillFailed) < quorum {
					return errors.Errorf("rpc: quorum of %d unreachable among %d peers", quorum, len(peers))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return replies, err
	}
	return replies, nil
}

func (c *Client) post(ctx context.Context, endpoint string, peer resync.NodeID, body []byte) resync.Reply {
	base, err := c.resolver.URL(peer)
	if err != nil {
		return resync.Reply{Node: peer, Err: errors.Wrapf(err, "resolve peer %s", peer)}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(base + endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.doWithContext(ctx, req, resp); err != nil {
		return resync.Reply{Node: peer, Err: errors.Wrapf(err, "call peer %s", peer)}
	}
	if resp.StatusCode() >= 300 {
		return resync.Reply{Node: peer, Err: errors.Errorf("peer %s responded %d", peer, resp.StatusCode())}
	}

	msg, err := decodeReply(resp.Body())
	if err != nil {
		return resync.Reply{Node: peer, Err: err}
	}
	return resync.Reply{Node: peer, Msg: msg}
}

// blockBodyFrame is the tiny length-prefixed wire frame CallManyStream uses
// to carry a PutBlock's JSON header followed by its raw body in a single
// request (spec §6: "PutBlock { id, header } + streamed body").
func encodeBlockBodyFrame(header []byte, body []byte) []byte {
	buf := make([]byte, 4+len(header)+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(header)))
	copy(buf[4:], header)
	copy(buf[4+len(header):], body)
	return buf
}

// decodeBlockBodyFrame splits a frame encodeBlockBodyFrame produced back
// into its header and body halves; the server side of CallManyStream uses
// this to recover the PutBlock header and raw bytes from one request body.
func decodeBlockBodyFrame(frame []byte) (header []byte, body []byte, err error) {
	if len(frame) < 4 {
		return nil, nil, errors.New("rpc: block body frame too short")
	}
	n := binary.BigEndian.Uint32(frame[0:4])
	if uint32(len(frame)-4) < n {
		return nil, nil, errors.New("rpc: block body frame header length exceeds frame")
	}
	return frame[4 : 4+n], frame[4+n:], nil
}

// CallManyStream sends msg (a PutBlock) plus body to every peer in peers,
// honoring strategy.Quorum the same way TryCallMany does. The body reader
// is consumed once into memory and replayed per peer, since an io.Reader
// can only be drained once.
func (c *Client) CallManyStream(ctx context.Context, endpoint string, peers []resync.NodeID, msg any, body io.Reader, strategy resync.RequestStrategy) ([]resync.Reply, error) {
	header, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read block body for offload")
	}
	frame := encodeBlockBodyFrame(header, bodyBytes)

	return c.callMany(ctx, endpoint, peers, rawFrame(frame), strategy.Quorum)
}

// rawFrame bypasses encodeMessage: callMany's post() treats it as an
// already-encoded body.
type rawFrame []byte

func (c *Client) doWithContext(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	done := make(chan error, 1)
	go func() { done <- c.http.Do(req, resp) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// GetRawBlock fetches a block body this node lacks from the first
// candidate peer that answers successfully.
func (c *Client) GetRawBlock(ctx context.Context, id resync.BlockID) ([]byte, error) {
	var lastErr error
	for _, peer := range c.resolver.Candidates(id) {
		data, err := c.getRawBlockFrom(ctx, peer, id)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.Errorf("get raw block %s: no candidate peers", id)
	}
	return nil, lastErr
}

func (c *Client) getRawBlockFrom(ctx context.Context, peer resync.NodeID, id resync.BlockID) ([]byte, error) {
	base, err := c.resolver.URL(peer)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve peer %s", peer)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(base + "/block/" + id.String())
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.doWithContext(ctx, req, resp); err != nil {
		return nil, errors.Wrapf(err, "get raw block from %s", peer)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, errors.Errorf("get raw block: peer %s responded %d", peer, resp.StatusCode())
	}
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
