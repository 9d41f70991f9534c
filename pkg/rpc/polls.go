package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

var errInvalidPollRef = errors.New("invalid poll reference")

// lookupPoll loads the poll uid created by owner. A nil view means no poll
// exists at the derived address.
func (s *Server) lookupPoll(owner types.Pubkey, uid string) (*PollView, error) {
	rt := s.bank.Runtime()
	programID := rt.Config().VotingProgramID
	addr, _, err := voting.DerivePollAddress(owner, uid, programID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPollRef, err)
	}

	acc, err := rt.GetAccount(addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != programID {
		return nil, nil
	}
	poll, err := voting.DecodePoll(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", addr, err)
	}

	view := &PollView{
		Address:  addr.String(),
		Lamports: acc.Lamports,
		Active:   poll.IsActive(rt.Now().Unix()),
		Poll:     poll,
	}
	for _, opt := range poll.Options {
		view.TotalVotes += uint64(opt.Counter)
	}
	return view, nil
}

func parsePollArgs(params json.RawMessage) (types.Pubkey, string, *RPCError) {
	args, rpcErr := parseParams(params)
	if rpcErr != nil {
		return types.Pubkey{}, "", rpcErr
	}
	owner, rpcErr := parsePubkeyArg(args, 0, "owner")
	if rpcErr != nil {
		return types.Pubkey{}, "", rpcErr
	}
	var uid string
	if rpcErr := parseArg(args, 1, "uid", &uid); rpcErr != nil {
		return types.Pubkey{}, "", rpcErr
	}
	return owner, uid, nil
}

func (s *Server) getPollAddress(params json.RawMessage) (interface{}, *RPCError) {
	owner, uid, rpcErr := parsePollArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, bump, err := voting.DerivePollAddress(owner, uid, s.bank.Runtime().Config().VotingProgramID)
	if err != nil {
		return nil, InvalidParamsErrorf("cannot derive poll address: %v", err)
	}
	return PollAddress{Address: addr.String(), Bump: bump}, nil
}

func (s *Server) getPoll(params json.RawMessage) (interface{}, *RPCError) {
	owner, uid, rpcErr := parsePollArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	view, err := s.lookupPoll(owner, uid)
	if errors.Is(err, errInvalidPollRef) {
		return nil, InvalidParamsError(err.Error())
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to load poll: %v", err)
	}
	return ResponseWithContext{Context: s.context(), Value: view}, nil
}

// pollRef reads the owner and uid URL parameters of a poll route.
func pollRef(w http.ResponseWriter, r *http.Request) (types.Pubkey, string, bool) {
	owner, err := types.PubkeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid owner")
		return types.Pubkey{}, "", false
	}
	return owner, chi.URLParam(r, "uid"), true
}

// handleGetPoll serves GET /polls/{owner}/{uid}.
func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	owner, uid, ok := pollRef(w, r)
	if !ok {
		return
	}
	view, err := s.lookupPoll(owner, uid)
	switch {
	case errors.Is(err, errInvalidPollRef):
		errorJSON(w, http.StatusBadRequest, err.Error())
	case err != nil:
		errorJSON(w, http.StatusInternalServerError, err.Error())
	case view == nil:
		errorJSON(w, http.StatusNotFound, "poll not found")
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// handleGetPollAddress serves GET /polls/{owner}/{uid}/address. The address
// is derivable whether or not the poll exists.
func (s *Server) handleGetPollAddress(w http.ResponseWriter, r *http.Request) {
	owner, uid, ok := pollRef(w, r)
	if !ok {
		return
	}
	addr, bump, err := voting.DerivePollAddress(owner, uid, s.bank.Runtime().Config().VotingProgramID)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PollAddress{Address: addr.String(), Bump: bump})
}
