package voting

import (
	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/system"
)

// testHost is an in-memory svm.InvokeContext. Signed invokes are routed to
// the system program over the same account objects.
type testHost struct {
	programID types.Pubkey
	accounts  []*svm.AccountInfo
	now       int64
	logs      []string
	invokes   int
}

func (h *testHost) ProgramID() types.Pubkey { return h.programID }
func (h *testHost) AccountCount() int       { return len(h.accounts) }
func (h *testHost) UnixTimestamp() int64    { return h.now }
func (h *testHost) ConsumeCU(uint64) error  { return nil }
func (h *testHost) Log(msg string)          { h.logs = append(h.logs, msg) }

func (h *testHost) GetAccount(i int) (*svm.AccountInfo, error) {
	if i < 0 || i >= len(h.accounts) {
		return nil, svm.ErrAccountIndexOutOfRange
	}
	return h.accounts[i], nil
}

func (h *testHost) RentMinimum(dataLen uint64) uint64 {
	return (128 + dataLen) * 3480 * 2
}

func (h *testHost) InvokeSigned(ix svm.Instruction, signerSeeds [][][]byte) error {
	h.invokes++
	if ix.ProgramID != system.ProgramID {
		return svm.ErrUnknownProgram
	}

	signers := make(map[types.Pubkey]bool)
	for _, seeds := range signerSeeds {
		addr, err := svm.CreateProgramAddress(seeds, h.programID)
		if err != nil {
			return err
		}
		signers[addr] = true
	}

	sub := &testHost{programID: ix.ProgramID, now: h.now}
	for _, meta := range ix.Accounts {
		var found *svm.AccountInfo
		for _, acc := range h.accounts {
			if acc.Key == meta.Pubkey {
				found = acc
			}
		}
		if found == nil {
			return svm.ErrAccountIndexOutOfRange
		}
		view := *found
		view.IsSigner = meta.IsSigner && (found.IsSigner || signers[found.Key])
		view.IsWritable = meta.IsWritable
		sub.accounts = append(sub.accounts, &view)
	}

	if err := system.NewProcessor().Process(sub, ix.Data); err != nil {
		return err
	}
	for i, meta := range ix.Accounts {
		for _, acc := range h.accounts {
			if acc.Key == meta.Pubkey {
				acc.Lamports = sub.accounts[i].Lamports
				acc.Data = sub.accounts[i].Data
				acc.Owner = sub.accounts[i].Owner
			}
		}
	}
	return nil
}
