package rpc

import (
	"encoding/json"
	"errors"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/bank"
	"github.com/fortiblox/X1-Ballot/pkg/ledger"
	"github.com/fortiblox/X1-Ballot/pkg/runtime"
)

// parseParams splits positional params. Missing params yield an empty list.
func parseParams(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 || string(params) == "null" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("params must be an array")
	}
	return args, nil
}

func parseArg(args []json.RawMessage, i int, name string, v interface{}) *RPCError {
	if i >= len(args) {
		return InvalidParamsErrorf("missing %s parameter", name)
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return InvalidParamsErrorf("invalid %s: %v", name, err)
	}
	return nil
}

// parseOptionalArg decodes args[i] into v when present.
func parseOptionalArg(args []json.RawMessage, i int, name string, v interface{}) *RPCError {
	if i >= len(args) || string(args[i]) == "null" {
		return nil
	}
	return parseArg(args, i, name, v)
}

func parsePubkeyArg(args []json.RawMessage, i int, name string) (types.Pubkey, *RPCError) {
	var s string
	if err := parseArg(args, i, name, &s); err != nil {
		return types.Pubkey{}, err
	}
	pk, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s: %v", name, err)
	}
	return pk, nil
}

func (s *Server) context() Context {
	return Context{Slot: s.bank.Runtime().Slot()}
}

func (s *Server) checkMinContextSlot(minSlot *uint64) *RPCError {
	if minSlot == nil {
		return nil
	}
	if current := s.bank.Runtime().Slot(); current < *minSlot {
		return MinContextSlotError(*minSlot, current)
	}
	return nil
}

func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{BallotCore: s.config.Version, FeatureSet: 1}, nil
}

func (s *Server) getSlot(params json.RawMessage) (interface{}, *RPCError) {
	return s.bank.Runtime().Slot(), nil
}

func (s *Server) getLatestBlockhash(params json.RawMessage) (interface{}, *RPCError) {
	rt := s.bank.Runtime()
	ctx := s.context()
	return ResponseWithContext{
		Context: ctx,
		Value: LatestBlockhash{
			Blockhash:            rt.LatestBlockhash().String(),
			LastValidBlockHeight: ctx.Slot + runtime.MaxBlockhashAge,
		},
	}, nil
}

func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg BalanceConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkMinContextSlot(cfg.MinContextSlot); rpcErr != nil {
		return nil, rpcErr
	}

	var lamports uint64
	acc, err := s.bank.Runtime().GetAccount(pubkey)
	switch {
	case err == nil:
		lamports = acc.Lamports
	case !errors.Is(err, accounts.ErrAccountNotFound):
		return nil, InternalServerErrorf("failed to load account: %v", err)
	}
	return ResponseWithContext{Context: s.context(), Value: lamports}, nil
}

func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg AccountInfoConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkMinContextSlot(cfg.MinContextSlot); rpcErr != nil {
		return nil, rpcErr
	}

	acc, err := s.bank.Runtime().GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ResponseWithContext{Context: s.context(), Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load account: %v", err)
	}

	data, err := encodeAccountData(acc, &cfg, s.bank.Runtime().Config().VotingProgramID)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}
	return ResponseWithContext{
		Context: s.context(),
		Value: AccountInfo{
			Lamports:   acc.Lamports,
			Owner:      acc.Owner.String(),
			Data:       data,
			Executable: acc.Executable,
			Space:      uint64(len(acc.Data)),
		},
	}, nil
}

func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var size uint64
	if rpcErr := parseArg(args, 0, "data length", &size); rpcErr != nil {
		return nil, rpcErr
	}
	return s.bank.Runtime().RentMinimum(size), nil
}

func (s *Server) requestAirdrop(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkeyArg(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if rpcErr := parseArg(args, 1, "lamports", &lamports); rpcErr != nil {
		return nil, rpcErr
	}

	sig, err := s.bank.RequestAirdrop(pubkey, lamports)
	if errors.Is(err, bank.ErrAirdropLimit) {
		return nil, InvalidParamsError(err.Error())
	}
	if err != nil {
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}
	return sig.String(), nil
}

func parseTransactionArg(args []json.RawMessage, encoding Encoding) (*runtime.Transaction, *RPCError) {
	var encoded string
	if rpcErr := parseArg(args, 0, "transaction", &encoded); rpcErr != nil {
		return nil, rpcErr
	}
	raw, err := decodeWireTransaction(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction encoding: %v", err)
	}
	tx, err := runtime.DeserializeTransaction(raw)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	return tx, nil
}

func (s *Server) sendTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg SendTransactionConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := parseTransactionArg(args, cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if !cfg.SkipPreflight {
		sim, err := s.bank.Simulate(tx)
		if err != nil {
			return nil, InternalServerErrorf("preflight failed: %v", err)
		}
		if sim.Err != nil {
			return nil, rejectionError(sim)
		}
	}

	res, err := s.bank.Submit(tx)
	if errors.Is(err, bank.ErrAlreadyProcessed) {
		return nil, ErrAlreadyProcessed
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to process transaction: %v", err)
	}
	if res.Err != nil && res.Err.InstructionIndex < 0 {
		return nil, rejectionError(res)
	}
	return res.Signature.String(), nil
}

func (s *Server) simulateTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg SimulateTransactionConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := parseTransactionArg(args, cfg.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.bank.Simulate(tx)
	if err != nil {
		return nil, InternalServerErrorf("simulation failed: %v", err)
	}
	return ResponseWithContext{
		Context: Context{Slot: res.Slot},
		Value: SimulateResult{
			Err:           resultErrorValue(res),
			Logs:          res.Logs,
			UnitsConsumed: res.ComputeUnitsConsumed,
		},
	}, nil
}

func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStr string
	if rpcErr := parseArg(args, 0, "signature", &sigStr); rpcErr != nil {
		return nil, rpcErr
	}
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid signature: %v", err)
	}
	var cfg TransactionConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	entry, err := s.bank.Transaction(sig)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load transaction: %v", err)
	}
	return TransactionResponse{
		Slot:        entry.Slot,
		BlockTime:   entry.BlockTime,
		Sequence:    entry.Sequence,
		Hash:        entry.Hash.String(),
		Transaction: encodeWireTransaction(entry.Transaction, cfg.Encoding),
		Meta: &TransactionMeta{
			Err:                  entryErrorValue(entry),
			LogMessages:          entry.Logs,
			ComputeUnitsConsumed: entry.ComputeUnitsConsumed,
			DeltaHash:            entry.DeltaHash.String(),
		},
	}, nil
}

func (s *Server) getSignaturesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkeyArg(args, 0, "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg SignaturesForAddressConfig
	if rpcErr := parseOptionalArg(args, 1, "config", &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	opts := &ledger.QueryOptions{Limit: cfg.Limit}
	if cfg.Before != "" {
		before, err := types.SignatureFromBase58(cfg.Before)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid before signature: %v", err)
		}
		opts.Before = &before
	}
	if cfg.Until != "" {
		until, err := types.SignatureFromBase58(cfg.Until)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid until signature: %v", err)
		}
		opts.Until = &until
	}

	infos, err := s.bank.SignaturesForAddress(addr, opts)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, InvalidParamsError("before or until signature not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to query signatures: %v", err)
	}

	out := make([]SignatureInfo, len(infos))
	for i, info := range infos {
		out[i] = SignatureInfo{
			Signature: info.Signature.String(),
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
		}
		if info.Failed {
			entry, err := s.bank.Transaction(info.Signature)
			if err != nil {
				return nil, InternalServerErrorf("failed to load transaction: %v", err)
			}
			out[i].Err = entryErrorValue(entry)
		}
	}
	return out, nil
}
