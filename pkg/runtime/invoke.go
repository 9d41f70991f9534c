package runtime

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// Instruction verification errors.
var (
	ErrReadonlyModified        = errors.New("instruction modified a readonly account")
	ErrExternalDataModified    = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend    = errors.New("instruction spent lamports of an account it does not own")
	ErrModifiedProgramID       = errors.New("instruction changed the owner of an account it could not reassign")
	ErrUnbalancedInstruction   = errors.New("sum of account balances changed")
	ErrPrivilegeEscalation     = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrCallDepth               = errors.New("cross-program invocation call depth too deep")
	ErrMissingAccount          = errors.New("invoked account not available to the caller")
	ErrExecutableModified      = errors.New("instruction modified an executable account")
	ErrAccountDataSizeExceeded = errors.New("account data size exceeded")
)

// txAccount is the working state of one message account.
type txAccount struct {
	key      types.Pubkey
	state    *accounts.Account
	signer   bool
	writable bool
}

// execution carries the state shared by every frame of one transaction.
type execution struct {
	rt       *Runtime
	accounts []*txAccount
	byKey    map[types.Pubkey]*txAccount
	meter    *svm.ComputeMeter
	now      int64
	logs     []string
}

func (e *execution) log(format string, args ...interface{}) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

// frame is one program invocation. It implements svm.InvokeContext.
type frame struct {
	exec      *execution
	programID types.Pubkey
	depth     int

	// infos is indexed by instruction account position. Repeated keys
	// share one AccountInfo.
	infos []*svm.AccountInfo
	// unique lists the distinct infos and their baseline state.
	unique []*svm.AccountInfo
	pre    map[types.Pubkey]*accounts.Account
}

type frameAccount struct {
	key      types.Pubkey
	signer   bool
	writable bool
}

func (e *execution) newFrame(programID types.Pubkey, depth int, metas []frameAccount) *frame {
	f := &frame{
		exec:      e,
		programID: programID,
		depth:     depth,
		infos:     make([]*svm.AccountInfo, len(metas)),
		pre:       make(map[types.Pubkey]*accounts.Account, len(metas)),
	}
	byKey := make(map[types.Pubkey]*svm.AccountInfo, len(metas))
	for i, m := range metas {
		if info, ok := byKey[m.key]; ok {
			info.IsSigner = info.IsSigner || m.signer
			info.IsWritable = info.IsWritable || m.writable
			f.infos[i] = info
			continue
		}
		state := e.byKey[m.key].state
		info := &svm.AccountInfo{
			Key:        m.key,
			Owner:      state.Owner,
			Lamports:   state.Lamports,
			Data:       bytes.Clone(state.Data),
			Executable: state.Executable,
			IsSigner:   m.signer,
			IsWritable: m.writable,
		}
		byKey[m.key] = info
		f.infos[i] = info
		f.unique = append(f.unique, info)
		f.pre[m.key] = state.Clone()
	}
	return f
}

func (f *frame) ProgramID() types.Pubkey { return f.programID }
func (f *frame) AccountCount() int       { return len(f.infos) }
func (f *frame) UnixTimestamp() int64    { return f.exec.now }

func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, fmt.Errorf("%w: %d of %d", svm.ErrAccountIndexOutOfRange, index, len(f.infos))
	}
	return f.infos[index], nil
}

func (f *frame) RentMinimum(dataLen uint64) uint64 {
	return f.exec.rt.RentMinimum(dataLen)
}

func (f *frame) ConsumeCU(units uint64) error {
	return f.exec.meter.Consume(units)
}

func (f *frame) Log(msg string) {
	f.exec.log("Program log: %s", msg)
}

// verify checks the frame's account mutations against the ownership rules.
func (f *frame) verify() error {
	var preSum, postSum uint64
	for _, info := range f.unique {
		pre := f.pre[info.Key]
		preSum += pre.Lamports
		postSum += info.Lamports

		dataChanged := !bytes.Equal(pre.Data, info.Data)
		changed := dataChanged || pre.Lamports != info.Lamports || pre.Owner != info.Owner
		if !changed {
			continue
		}
		if !info.IsWritable {
			return fmt.Errorf("%w: %s", ErrReadonlyModified, info.Key)
		}
		if pre.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, info.Key)
		}
		owned := pre.Owner == f.programID
		if pre.Owner != info.Owner && (!owned || !isZeroed(info.Data)) {
			return fmt.Errorf("%w: %s", ErrModifiedProgramID, info.Key)
		}
		if dataChanged && !owned {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, info.Key)
		}
		if info.Lamports < pre.Lamports && !owned {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, info.Key)
		}
		if len(info.Data) > accounts.MaxAccountDataSize {
			return fmt.Errorf("%w: %s", ErrAccountDataSizeExceeded, info.Key)
		}
	}
	if preSum != postSum {
		return fmt.Errorf("%w: %d before, %d after", ErrUnbalancedInstruction, preSum, postSum)
	}
	return nil
}

// apply writes the frame's accounts into the transaction state and makes the
// result the new baseline.
func (f *frame) apply() {
	for _, info := range f.unique {
		acc := f.exec.byKey[info.Key]
		acc.state = &accounts.Account{
			Lamports:   info.Lamports,
			Data:       bytes.Clone(info.Data),
			Owner:      info.Owner,
			Executable: acc.state.Executable,
		}
		f.pre[info.Key] = acc.state.Clone()
	}
}

// refresh reloads the frame's infos from the transaction state after a
// nested invocation changed it.
func (f *frame) refresh() {
	for _, info := range f.unique {
		state := f.exec.byKey[info.Key].state
		info.Lamports = state.Lamports
		info.Data = bytes.Clone(state.Data)
		info.Owner = state.Owner
		f.pre[info.Key] = state.Clone()
	}
}

func (f *frame) InvokeSigned(ix svm.Instruction, signerSeeds [][][]byte) error {
	if f.depth+1 > svm.CPIDepthMax {
		return fmt.Errorf("%w: %d", ErrCallDepth, f.depth+1)
	}
	if err := f.ConsumeCU(svm.CUInvokeBase); err != nil {
		return err
	}

	signers := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := f.ConsumeCU(svm.CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := svm.CreateProgramAddress(seeds, f.programID)
		if err != nil {
			return fmt.Errorf("derive signer: %w", err)
		}
		signers[addr] = true
	}

	callerInfo := make(map[types.Pubkey]*svm.AccountInfo, len(f.unique))
	for _, info := range f.unique {
		callerInfo[info.Key] = info
	}
	if _, ok := callerInfo[ix.ProgramID]; !ok {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, ix.ProgramID)
	}
	metas := make([]frameAccount, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		info, ok := callerInfo[meta.Pubkey]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsWritable && !info.IsWritable {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner && !info.IsSigner && !signers[meta.Pubkey] {
			return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.Pubkey)
		}
		metas[i] = frameAccount{key: meta.Pubkey, signer: meta.IsSigner, writable: meta.IsWritable}
	}

	// Changes the caller made so far become visible to the callee.
	if err := f.verify(); err != nil {
		return err
	}
	f.apply()

	if err := f.exec.run(ix.ProgramID, f.depth+1, metas, ix.Data); err != nil {
		return err
	}
	f.refresh()
	return nil
}

// run executes one program frame and folds its effects into the
// transaction state.
func (e *execution) run(programID types.Pubkey, depth int, metas []frameAccount, data []byte) error {
	program, ok := e.rt.program(programID)
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, programID)
	}
	e.log("Program %s invoke [%d]", programID, depth)
	f := e.newFrame(programID, depth, metas)
	if err := program.Process(f, data); err != nil {
		e.log("Program %s failed: %v", programID, err)
		return err
	}
	if err := f.verify(); err != nil {
		e.log("Program %s failed: %v", programID, err)
		return err
	}
	f.apply()
	e.log("Program %s success", programID)
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
