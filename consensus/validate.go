package consensus

import (
	"golang.org/x/sync/errgroup"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/model"
)

// ValidateBlock checks a candidate block's PoW against bits and, once
// checkpointing is active (height >= activationHeight) and a checkpoint is
// supplied, that it carries valid signatures from at least 2/3 of the
// active validator set (see VerifyCheckpoint; the checkpoint's height is
// not compared with the block's) (spec §4.6: "PoW alone secures the chain
// before activation; after activation, checkpoints add fast finality on
// top of PoW, which keeps running unconditionally").
//
// checkpoint may be nil before HYBRID_ACTIVATION_HEIGHT, or when no
// checkpoint has been produced yet for this height's window.
func (e *Engine) ValidateBlock(header *model.BlockHeader, height uint32, checkpoint *CheckpointInfo, sigAlg external.SignatureAlgorithm) error {
	blockHash := header.Hash()

	var g errgroup.Group

	g.Go(func() error {
		if !e.powOracle.CheckPoW(blockHash, header.Bits) {
			return errors.NewInvalidPoWError("block %s fails PoW target", blockHash)
		}
		return nil
	})

	if height >= e.activationHeight && checkpoint != nil {
		g.Go(func() error {
			return e.VerifyCheckpoint(checkpoint, sigAlg)
		})
	}

	return g.Wait()
}
