package model

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/coreledger/hybridcore/errors"
	"github.com/libsv/go-bt/v2/bscript"
)

// MinerVote is the block-size preference a miner embeds in the coinbase
// signature script, consumed by the block-size governor's MinerVote
// aggregation (spec §4.2). Extraction is adapted from the teacher's
// util.ExtractCoinbaseHeight/ExtractCoinbaseMiner (util/coinbase.go),
// which parse the BIP-34 height push the same way; this adds a second,
// application-specific push for the vote itself rather than inventing a
// new script grammar.
type MinerVote struct {
	Height         uint32
	PreferredLimit uint64
	MinerTag       string
}

// ExtractMinerVote parses the coinbase input's unlocking script. Layout,
// after the standard BIP-34 height push:
//
//	OP_PUSH(len) <preferred_limit as ASCII decimal>[/<miner tag text>]
//
// A missing or malformed vote push is not an error: it simply means the
// miner expressed no preference, the same tolerant behavior as the
// teacher's ExtractCoinbaseMiner swallowing ErrBlockCoinbaseMissingHeight.
func ExtractMinerVote(coinbaseTx *Tx) (*MinerVote, error) {
	if coinbaseTx == nil || len(coinbaseTx.Inputs) == 0 {
		return nil, errors.NewInvalidArgumentError("coinbase transaction has no inputs")
	}

	sigScript := *coinbaseTx.Inputs[0].UnlockingScript

	height, rest, err := extractHeightPush(sigScript)
	if err != nil {
		return &MinerVote{}, nil
	}

	limit, tag := extractVotePush(rest)

	return &MinerVote{
		Height:         height,
		PreferredLimit: limit,
		MinerTag:       tag,
	}, nil
}

func extractHeightPush(sigScript bscript.Script) (uint32, bscript.Script, error) {
	if len(sigScript) < 1 {
		return 0, nil, errors.NewInvalidArgumentError("empty coinbase signature script")
	}

	serializedLen := int(sigScript[0])
	if serializedLen != 3 {
		return 0, nil, errors.NewInvalidArgumentError("coinbase signature script does not start with a 3-byte height push")
	}

	if len(sigScript[1:]) < serializedLen {
		return 0, nil, errors.NewInvalidArgumentError("coinbase signature script truncated height push")
	}

	heightBytes := make([]byte, 8)
	copy(heightBytes, sigScript[1:serializedLen+1])
	height := binary.LittleEndian.Uint64(heightBytes)

	return uint32(height), sigScript[serializedLen+1:], nil
}

func extractVotePush(rest bscript.Script) (uint64, string) {
	if len(rest) < 1 {
		return 0, ""
	}

	voteLen := int(rest[0])
	if voteLen <= 0 || len(rest[1:]) < voteLen {
		return 0, strings.TrimSpace(string(rest))
	}

	votePayload := string(rest[1 : voteLen+1])
	parts := strings.SplitN(votePayload, "/", 2)

	limit, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, strings.TrimSpace(votePayload)
	}

	tag := ""
	if len(parts) > 1 {
		tag = strings.TrimSpace(parts[1])
	}

	return limit, tag
}
