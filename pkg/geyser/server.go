package geyser

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/runtime"
)

// ErrServerClosed is returned by Serve after Stop.
var ErrServerClosed = errors.New("geyser server closed")

// subscription is one registered subscriber.
type subscription struct {
	id           string
	accounts     map[types.Pubkey]struct{}
	owners       map[types.Pubkey]struct{}
	transactions bool
	slots        bool

	updates chan *Update
	done    chan struct{}
	once    sync.Once
	err     error
}

// close ends the subscription with err. Only the first call has effect.
func (s *subscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// matchesAll reports whether the subscription has no account filter.
func (s *subscription) matchesAll() bool {
	return len(s.accounts) == 0 && len(s.owners) == 0
}

func (s *subscription) matchesAccount(u *AccountUpdate) bool {
	if s.matchesAll() {
		return true
	}
	if _, ok := s.accounts[u.Pubkey]; ok {
		return true
	}
	if u.Deleted {
		return false
	}
	_, ok := s.owners[u.Owner]
	return ok
}

// send queues u without blocking. A full queue drops the subscriber.
func (s *subscription) send(u *Update) {
	select {
	case <-s.done:
	case s.updates <- u:
	default:
		s.close(status.Error(codes.ResourceExhausted, "subscriber too slow"))
	}
}

// Server is the Geyser gRPC server.
type Server struct {
	config ServerConfig
	token  string
	grpc   *grpc.Server

	mu       sync.RWMutex
	subs     map[string]*subscription
	closed   bool
	listener net.Listener

	slot         atomic.Uint64
	writeVersion atomic.Uint64
}

// NewServer creates a Geyser server.
func NewServer(config ServerConfig) *Server {
	s := &Server{
		config: config,
		token:  expandEnvVars(config.Token),
		subs:   make(map[string]*subscription),
	}
	s.grpc = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             config.MinPingInterval,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return ErrServerClosed
	}
	return err
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	klog.InfoS("Geyser server listening", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the address being served, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every subscription with Unavailable and shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		sub.close(status.Error(codes.Unavailable, "server shutting down"))
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.grpc.Stop()
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Subscribe implements the Subscribe stream.
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.authorize(ctx); err != nil {
		return err
	}
	sub, err := s.register(req)
	if err != nil {
		return err
	}
	defer s.unregister(sub.id)
	klog.V(1).InfoS("Geyser subscriber connected", "id", sub.id,
		"accounts", len(sub.accounts), "owners", len(sub.owners))

	hello := &Update{
		SubscriptionID: sub.id,
		CreatedAt:      time.Now(),
		Slot:           &SlotUpdate{Slot: s.slot.Load()},
	}
	if err := stream.SendMsg(hello); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			klog.V(1).InfoS("Geyser subscriber disconnected", "id", sub.id)
			return status.FromContextError(ctx.Err()).Err()
		case <-sub.done:
			klog.V(1).InfoS("Geyser subscription closed", "id", sub.id, "err", sub.err)
			return sub.err
		case u := <-sub.updates:
			if err := stream.SendMsg(u); err != nil {
				return err
			}
		}
	}
}

func (s *Server) authorize(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("x-token") {
		if subtle.ConstantTimeCompare([]byte(v), []byte(s.token)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "missing or invalid x-token")
}

func (s *Server) parseKeys(field string, keys []string) (map[types.Pubkey]struct{}, error) {
	if len(keys) > s.config.MaxFilterKeys {
		return nil, status.Errorf(codes.InvalidArgument, "%s filter has %d keys, max %d",
			field, len(keys), s.config.MaxFilterKeys)
	}
	set := make(map[types.Pubkey]struct{}, len(keys))
	for _, k := range keys {
		pk, err := types.PubkeyFromBase58(k)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s key %q: %v", field, k, err)
		}
		set[pk] = struct{}{}
	}
	return set, nil
}

func (s *Server) register(req *SubscribeRequest) (*subscription, error) {
	accounts, err := s.parseKeys("accounts", req.Accounts)
	if err != nil {
		return nil, err
	}
	owners, err := s.parseKeys("owners", req.Owners)
	if err != nil {
		return nil, err
	}
	sub := &subscription{
		id:           uuid.New().String(),
		accounts:     accounts,
		owners:       owners,
		transactions: req.Transactions,
		slots:        req.Slots,
		updates:      make(chan *Update, s.config.BufferSize),
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, status.Error(codes.Unavailable, "server shutting down")
	}
	if len(s.subs) >= s.config.MaxSubscribers {
		return nil, status.Errorf(codes.ResourceExhausted, "subscriber limit %d reached", s.config.MaxSubscribers)
	}
	s.subs[sub.id] = sub
	return sub, nil
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// PublishTransaction fans out the effects of a committed transaction. Its
// signature matches runtime.CommitListener.
func (s *Server) PublishTransaction(tx *runtime.Transaction, res *runtime.Result) {
	now := time.Now()
	updates := make([]*AccountUpdate, 0, len(res.Accounts))
	for pubkey, acc := range res.Accounts {
		u := &AccountUpdate{
			Slot:         res.Slot,
			Signature:    res.Signature,
			Pubkey:       pubkey,
			WriteVersion: s.writeVersion.Add(1),
		}
		if acc == nil {
			u.Deleted = true
		} else {
			u.Owner = acc.Owner
			u.Lamports = acc.Lamports
			u.Data = acc.Data
			u.Executable = acc.Executable
		}
		updates = append(updates, u)
	}

	txUpdate := &TransactionUpdate{
		Slot:                 res.Slot,
		Signature:            res.Signature,
		AccountKeys:          tx.Message.AccountKeys,
		Logs:                 res.Logs,
		ComputeUnitsConsumed: res.ComputeUnitsConsumed,
	}
	if res.Err != nil {
		txUpdate.Err = res.Err.Error()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		touched := false
		for _, u := range updates {
			if sub.matchesAccount(u) {
				touched = true
				sub.send(&Update{CreatedAt: now, Account: u})
			}
		}
		if sub.transactions && (touched || sub.matchesAll() || sub.referencesAny(tx.Message.AccountKeys)) {
			sub.send(&Update{CreatedAt: now, Transaction: txUpdate})
		}
	}
}

func (s *subscription) referencesAny(keys []types.Pubkey) bool {
	for _, k := range keys {
		if _, ok := s.accounts[k]; ok {
			return true
		}
	}
	return false
}

// PublishSlot announces a sealed slot.
func (s *Server) PublishSlot(slot uint64, bankHash types.Hash) {
	s.slot.Store(slot)
	u := &Update{CreatedAt: time.Now(), Slot: &SlotUpdate{Slot: slot, BankHash: bankHash}}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.slots {
			sub.send(u)
		}
	}
}
