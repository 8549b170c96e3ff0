package model

import (
	"encoding/binary"
	"testing"

	"github.com/libsv/go-bt/v2"
	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCoinbaseScript(height uint32, preferredLimit string, tag string) *bscript.Script {
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, uint64(height))

	script := make([]byte, 0)
	script = append(script, 3)
	script = append(script, heightBytes[:3]...)

	payload := preferredLimit
	if tag != "" {
		payload += "/" + tag
	}
	script = append(script, byte(len(payload)))
	script = append(script, []byte(payload)...)

	s := bscript.Script(script)
	return &s
}

func buildCoinbaseTx(script *bscript.Script) *Tx {
	tx := bt.NewTx()
	tx.Inputs = append(tx.Inputs, &bt.Input{
		UnlockingScript: script,
	})
	return tx
}

func TestExtractMinerVoteParsesLimitAndTag(t *testing.T) {
	script := buildCoinbaseScript(850000, "4000000", "pool-x")
	tx := buildCoinbaseTx(script)

	vote, err := ExtractMinerVote(tx)
	require.NoError(t, err)
	assert.Equal(t, uint32(850000), vote.Height)
	assert.Equal(t, uint64(4000000), vote.PreferredLimit)
	assert.Equal(t, "pool-x", vote.MinerTag)
}

func TestExtractMinerVoteNoPreferenceIsNotAnError(t *testing.T) {
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, 500000)
	raw := append([]byte{3}, heightBytes[:3]...)
	script := bscript.Script(raw)

	tx := buildCoinbaseTx(&script)

	vote, err := ExtractMinerVote(tx)
	require.NoError(t, err)
	assert.Equal(t, uint32(500000), vote.Height)
	assert.Equal(t, uint64(0), vote.PreferredLimit)
}

func TestExtractMinerVoteRejectsEmptyInputs(t *testing.T) {
	tx := bt.NewTx()
	_, err := ExtractMinerVote(tx)
	require.Error(t, err)
}
