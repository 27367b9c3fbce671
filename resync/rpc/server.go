// Server is the receiving end of Client: fasthttp handlers for the three
// endpoints the offload protocol calls (spec §6), dispatched the way
// ais/httpcommon.go's httprunner registered one handler per REST resource
// and dfc/target.go's targetrunner.daemonhdlr switched on method/path within
// one.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package rpc

import (
	"strings"

	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/maxjustus/garage/resync"
)

const (
	NeedBlockEndpoint = "/resync/need"
	PutBlockEndpoint  = "/resync/put"
	blockPathPrefix   = "/block/"
)

// Server answers peer requests against a local BlockStore: whether a block
// is still needed, accepting an offloaded block, and serving a block's raw
// bytes to a peer that lacks it.
type Server struct {
	store resync.BlockStore
}

func NewServer(store resync.BlockStore) *Server {
	return &Server{store: store}
}

// Handler returns the fasthttp.RequestHandler to pass to fasthttp.Server --
// a single dispatch point, mirroring targetrunner.daemonhdlr's method switch
// rather than a full mux (this package has exactly three routes).
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == NeedBlockEndpoint:
			s.handleNeedBlock(ctx)
		case path == PutBlockEndpoint:
			s.handlePutBlock(ctx)
		case strings.HasPrefix(path, blockPathPrefix):
			s.handleGetBlock(ctx, strings.TrimPrefix(path, blockPathPrefix))
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) handleNeedBlock(ctx *fasthttp.RequestCtx) {
	query, err := decodeQuery(ctx.PostBody())
	if err != nil {
		glog.Errorf("resync server: bad need_block_query: %v", err)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	status, err := s.store.CheckBlockStatus(ctx, query.Hash)
	if err != nil {
		glog.Errorf("resync server: check block status %s: %v", query.Hash, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	reply, err := encodeMessage(resync.NeedBlockReply{Needed: status.Needed.IsNeeded && !status.Exists})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(reply)
}

func (s *Server) handlePutBlock(ctx *fasthttp.RequestCtx) {
	header, body, err := decodeBlockBodyFrame(ctx.PostBody())
	if err != nil {
		glog.Errorf("resync server: bad put_block frame: %v", err)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	put, err := decodePutBlockHeader(header)
	if err != nil {
		glog.Errorf("resync server: bad put_block header: %v", err)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	if err := s.store.WriteBlock(ctx, put.Hash, body); err != nil {
		glog.Errorf("resync server: write block %s: %v", put.Hash, err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (s *Server) handleGetBlock(ctx *fasthttp.RequestCtx, hexID string) {
	id, err := resync.BlockIDFromHex(hexID)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	_, raw, err := s.store.ReadBlock(ctx, id)
	if err != nil {
		glog.Errorf("resync server: read block %s: %v", id, err)
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetBody(raw)
}
