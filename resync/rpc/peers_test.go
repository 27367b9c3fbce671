package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxjustus/garage/resync"
)

func TestStaticPeersURLAndCandidatesExcludeSelf(t *testing.T) {
	p := NewStaticPeers("self")
	p.Set(map[resync.NodeID]string{
		"self": "http://node-self",
		"b":    "http://node-b",
		"c":    "http://node-c",
	})

	url, err := p.URL("b")
	require.NoError(t, err)
	assert.Equal(t, "http://node-b", url)

	_, err = p.URL("ghost")
	assert.Error(t, err)

	candidates := p.Candidates(resync.BlockID{})
	assert.ElementsMatch(t, []resync.NodeID{"b", "c"}, candidates)
}

func TestStaticPeersSetReplacesWhollyNotMerges(t *testing.T) {
	p := NewStaticPeers("self")
	p.Set(map[resync.NodeID]string{"a": "http://a"})
	p.Set(map[resync.NodeID]string{"b": "http://b"})

	_, err := p.URL("a")
	assert.Error(t, err, "first Set's membership must not survive a later Set")

	url, err := p.URL("b")
	require.NoError(t, err)
	assert.Equal(t, "http://b", url)
}
