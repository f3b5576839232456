// Package validator reconstructs a candidate block header from a share
// submission, computes its proof-of-work value via the node client
// library's pow package, and compares it against both the session's share
// target and the network's block target.
package validator

import (
	"math/big"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/domain/consensus/utils/pow"
	"github.com/pkg/errors"

	"github.com/rkbridge/stratum-bridge/internal/jobs"
)

// Submission is the parsed mining.submit payload.
type Submission struct {
	Worker            string
	JobID             uint64
	ExtranonceClient  []byte // empty for families that don't append one
	Nonce             uint64
	TimestampOverride int64 // 0 means "use the job's timestamp"
}

// Outcome is the result of validating one submission.
type Outcome int

const (
	OutcomeReject Outcome = iota
	OutcomeShareAccepted
	OutcomeBlockCandidate
)

// RejectReason names why a submission was rejected, matching the error
// taxonomy's share-level kinds.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectStaleJob
	RejectDuplicate
	RejectLowDifficulty
	RejectBadSubmission
)

// Result carries everything the session needs to reply and log.
type Result struct {
	Outcome         Outcome
	Reason          RejectReason
	PowValue        *big.Int
	ShareDifficulty float64
	Block           *appmessage.RPCBlock
}

// Validate runs the full pipeline described by the share validation design:
// header assembly, PoW computation, and comparison against the session
// target and the job's network target. It does not consult or update the
// duplicate-submission cache; callers check that before calling Validate and
// record the key after a non-duplicate outcome.
func Validate(job *jobs.Job, sub Submission, sessionTarget *big.Int) (*Result, error) {
	block, err := cloneBlockWithNonce(job, sub)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct header")
	}

	converted, err := appmessage.RPCBlockToDomainBlock(block)
	if err != nil {
		return nil, errors.Wrap(err, "convert submitted block")
	}
	mutableHeader := converted.Header.ToMutable()
	mutableHeader.SetNonce(sub.Nonce)
	state := pow.NewState(mutableHeader)
	powValue := state.CalculateProofOfWorkValue()

	shareDifficulty := targetToDifficulty(sessionTarget)

	if powValue.Cmp(sessionTarget) > 0 {
		return &Result{Outcome: OutcomeReject, Reason: RejectLowDifficulty, PowValue: powValue, ShareDifficulty: shareDifficulty}, nil
	}

	if powValue.Cmp(job.Template.NetworkTarget) <= 0 {
		return &Result{Outcome: OutcomeBlockCandidate, PowValue: powValue, ShareDifficulty: shareDifficulty, Block: block}, nil
	}

	return &Result{Outcome: OutcomeShareAccepted, PowValue: powValue, ShareDifficulty: shareDifficulty}, nil
}

// cloneBlockWithNonce copies the job's template block and overwrites the
// nonce (and, for families that supply one, the timestamp) with the
// submitted values. It only ever touches the header fields the PoW function
// reads; the submission's ExtranonceClient is not applied to the block or
// its coinbase, here or in the registry.
func cloneBlockWithNonce(job *jobs.Job, sub Submission) (*appmessage.RPCBlock, error) {
	if job.Template == nil || job.Template.Block == nil || job.Template.Block.Header == nil {
		return nil, errors.New("job has no template header")
	}
	headerCopy := *job.Template.Block.Header
	headerCopy.Nonce = sub.Nonce
	if sub.TimestampOverride != 0 {
		headerCopy.Timestamp = sub.TimestampOverride
	}

	block := *job.Template.Block
	block.Header = &headerCopy
	return &block, nil
}

// D1 is the Kaspa network's difficulty-1 target divisor, used to translate
// between a 256-bit target and a conventional difficulty number.
var d1 = new(big.Int).Lsh(big.NewInt(1), 255)

// DifficultyToTarget computes target = floor(2^256 / (difficulty * D1))
// clamped so a zero or negative difficulty never divides by zero.
func DifficultyToTarget(difficulty float64) *big.Int {
	if difficulty <= 0 {
		difficulty = 1
	}
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 256)
	diffBig := new(big.Int).SetInt64(int64(difficulty * 1e6))
	denom := new(big.Int).Mul(diffBig, d1)
	denom.Div(denom, big.NewInt(1e6))
	if denom.Sign() == 0 {
		return maxTarget
	}
	return new(big.Int).Div(maxTarget, denom)
}

func targetToDifficulty(target *big.Int) float64 {
	if target == nil || target.Sign() == 0 {
		return 0
	}
	maxTarget := new(big.Int).Lsh(big.NewInt(1), 256)
	quotient := new(big.Int).Div(maxTarget, target)
	f := new(big.Float).SetInt(quotient)
	d1f := new(big.Float).SetInt(d1)
	f.Quo(f, d1f)
	out, _ := f.Float64()
	return out
}
