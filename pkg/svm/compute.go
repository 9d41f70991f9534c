package svm

import (
	"errors"
	"fmt"
)

// Compute unit costs.
const (
	CUDefault = uint64(200_000)
	CUMax     = uint64(1_400_000)

	CUInvokeBase           = uint64(1_000)
	CUSignatureVerify      = uint64(720)
	CUCreateProgramAddress = uint64(1_500)
	CUFindProgramAddress   = uint64(1_500) // per bump tried
	CUSystemProgramDefault = uint64(150)
	CUVotingProgramDefault = uint64(2_000)
)

// CPIDepthMax is the maximum nesting depth of cross-program invocations.
const CPIDepthMax = 4

// ErrComputeExceeded is returned when a transaction exhausts its budget.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks the compute units of one transaction. A transaction
// executes on a single goroutine, so the meter is not synchronized.
type ComputeMeter struct {
	limit    uint64
	consumed uint64
}

// NewComputeMeter returns a meter for limit units. Zero or anything above
// CUMax selects CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 || limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{limit: limit}
}

// Consume charges cost units. When fewer remain the meter is drained and
// ErrComputeExceeded returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if remaining := cm.limit - cm.consumed; cost > remaining {
		cm.consumed = cm.limit
		return fmt.Errorf("%w: need %d units, %d remain", ErrComputeExceeded, cost, remaining)
	}
	cm.consumed += cost
	return nil
}

func (cm *ComputeMeter) Remaining() uint64 { return cm.limit - cm.consumed }

func (cm *ComputeMeter) Consumed() uint64 { return cm.consumed }

func (cm *ComputeMeter) Limit() uint64 { return cm.limit }
