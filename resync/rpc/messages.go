// Package rpc is the default Rpc implementation the resync engine fans
// requests out over: HTTP peer calls via valyala/fasthttp, parallelized
// with golang.org/x/sync/errgroup, wire-encoded with json-iterator.
//
// Spec §1 scopes "transport-layer framing" as a Non-goal of the resync
// core itself; this package is the pluggable default transport an embedder
// may use to satisfy resync.Rpc, not part of the core's contract.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package rpc

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/maxjustus/garage/resync"
)

// envelope is the wire encoding for the three message shapes the resync
// engine exchanges with peers (spec §6): NeedBlockQuery, NeedBlockReply,
// and PutBlock's header (the body travels separately, see client.go).
type envelope struct {
	Type           string                 `json:"type"`
	NeedBlockQuery *resync.NeedBlockQuery `json:"need_block_query,omitempty"`
	NeedBlockReply *resync.NeedBlockReply `json:"need_block_reply,omitempty"`
	PutBlock       *resync.PutBlock       `json:"put_block,omitempty"`
}

const (
	typeNeedBlockQuery = "need_block_query"
	typeNeedBlockReply = "need_block_reply"
	typePutBlock       = "put_block"
)

func encodeMessage(msg any) ([]byte, error) {
	env := envelope{}
	switch m := msg.(type) {
	case resync.NeedBlockQuery:
		env.Type = typeNeedBlockQuery
		env.NeedBlockQuery = &m
	case resync.NeedBlockReply:
		env.Type = typeNeedBlockReply
		env.NeedBlockReply = &m
	case resync.PutBlock:
		env.Type = typePutBlock
		env.PutBlock = &m
	default:
		return nil, errors.Errorf("rpc: unsupported message type %T", msg)
	}
	return jsoniter.Marshal(&env)
}

// decodeQuery is decodeReply's server-side counterpart: it parses the
// envelope a NeedBlockQuery arrives as, for handlers that only ever expect
// one message shape.
func decodeQuery(data []byte) (resync.NeedBlockQuery, error) {
	var env envelope
	if err := jsoniter.Unmarshal(data, &env); err != nil {
		return resync.NeedBlockQuery{}, errors.Wrap(err, "decode need_block_query")
	}
	if env.Type != typeNeedBlockQuery || env.NeedBlockQuery == nil {
		return resync.NeedBlockQuery{}, errors.Errorf("rpc: expected %s, got %q", typeNeedBlockQuery, env.Type)
	}
	return *env.NeedBlockQuery, nil
}

// decodePutBlockHeader parses the PutBlock header half of the length-prefixed
// frame encodeBlockBodyFrame produces (client.go); the body half is handled
// separately by the caller since it may be large.
func decodePutBlockHeader(data []byte) (resync.PutBlock, error) {
	var env envelope
	if err := jsoniter.Unmarshal(data, &env); err != nil {
		return resync.PutBlock{}, errors.Wrap(err, "decode put_block header")
	}
	if env.Type != typePutBlock || env.PutBlock == nil {
		return resync.PutBlock{}, errors.Errorf("rpc: expected %s, got %q", typePutBlock, env.Type)
	}
	return *env.PutBlock, nil
}

// decodeReply turns a peer's JSON response body back into the `any`
// payload resync.Reply.Msg carries -- a resync.NeedBlockReply for a
// NeedBlockQuery response, or nil for a bare ack (PutBlock's response).
func decodeReply(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env envelope
	if err := jsoniter.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode rpc reply")
	}
	switch env.Type {
	case typeNeedBlockReply:
		if env.NeedBlockReply == nil {
			return nil, errors.New("rpc: malformed need_block_reply")
		}
		return *env.NeedBlockReply, nil
	case "", "ack":
		return nil, nil
	default:
		return nil, errors.Errorf("rpc: unexpected reply type %q", env.Type)
	}
}
