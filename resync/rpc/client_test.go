package rpc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxjustus/garage/resync"
)

type staticResolver struct {
	urls       map[resync.NodeID]string
	candidates []resync.NodeID
}

func (r staticResolver) URL(id resync.NodeID) (string, error) { return r.urls[id], nil }
func (r staticResolver) Candidates(resync.BlockID) []resync.NodeID {
	return r.candidates
}

func TestCallManyAllReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := encodeMessage(resync.NeedBlockReply{Needed: true})
		require.NoError(t, err)
		w.Write(data)
	}))
	defer srv.Close()

	resolver := staticResolver{urls: map[resync.NodeID]string{"a": srv.URL, "b": srv.URL}}
	c := NewClient(resolver)

	var id resync.BlockID
	replies, err := c.CallMany(context.Background(), "/resync/need", []resync.NodeID{"a", "b"}, resync.NeedBlockQuery{Hash: id}, resync.WithPriority(resync.PriorityBackground))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	for _, r := range replies {
		require.NoError(t, r.Err)
		reply, ok := r.Msg.(resync.NeedBlockReply)
		require.True(t, ok)
		assert.True(t, reply.Needed)
	}
}

func TestTryCallManyFailsFastBelowQuorum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := staticResolver{urls: map[resync.NodeID]string{"a": srv.URL, "b": srv.URL}}
	c := NewClient(resolver)

	var id resync.BlockID
	strategy := resync.WithPriority(resync.PriorityBackground).WithQuorum(2)
	_, err := c.TryCallMany(context.Background(), "/resync/need", []resync.NodeID{"a", "b"}, resync.NeedBlockQuery{Hash: id}, strategy)
	assert.Error(t, err)
}

func TestGetRawBlockTriesCandidatesInOrder(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("block-bytes"))
	}))
	defer good.Close()

	resolver := staticResolver{
		urls:       map[resync.NodeID]string{"bad": bad.URL, "good": good.URL},
		candidates: []resync.NodeID{"bad", "good"},
	}
	c := NewClient(resolver)

	var id resync.BlockID
	data, err := c.GetRawBlock(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "block-bytes", string(data))
}

func TestCallManyStreamSendsHeaderAndBody(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- b
	}))
	defer srv.Close()

	resolver := staticResolver{urls: map[resync.NodeID]string{"a": srv.URL}}
	c := NewClient(resolver)

	var id resync.BlockID
	_, err := c.CallManyStream(context.Background(), "/resync/put", []resync.NodeID{"a"},
		resync.PutBlock{Hash: id, Header: resync.BlockHeader{Raw: []byte("hdr")}},
		strings.NewReader("body-bytes"), resync.WithPriority(resync.PriorityBackground).WithQuorum(1))
	require.NoError(t, err)

	frame := <-received
	assert.Greater(t, len(frame), 4)
}
