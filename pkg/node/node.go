// Package node wires a ballot node together.
//
// The Node ties together all components:
//   - accounts database (BadgerDB, or in memory for development)
//   - ledger of processed transactions (BoltDB)
//   - runtime with the system and voting programs
//   - bank, which records transactions and seals slots
//   - JSON-RPC server and Geyser update stream
//
// A slot ticker seals the current slot on every tick, publishing the bank
// hash to Geyser subscribers and advancing the recent blockhash.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/bank"
	"github.com/fortiblox/X1-Ballot/pkg/geyser"
	"github.com/fortiblox/X1-Ballot/pkg/ledger"
	"github.com/fortiblox/X1-Ballot/pkg/rpc"
	"github.com/fortiblox/X1-Ballot/pkg/runtime"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
	ErrStorageCorrupt = errors.New("storage corruption detected")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories are created for the accounts database and the ledger.
	DataDir string

	// InMemoryAccounts keeps account state in memory. The ledger is still
	// written to DataDir.
	InMemoryAccounts bool

	// SnapshotPath is an optional accounts snapshot loaded when the accounts
	// database is empty.
	SnapshotPath string

	// VerifyLedger walks the ledger hash chain at startup.
	VerifyLedger bool

	// VotingProgramID is the address of the voting program. Zero selects
	// types.DefaultVotingProgramAddr.
	VotingProgramID types.Pubkey

	// SlotDuration is the interval between sealed slots.
	SlotDuration time.Duration

	// ComputeUnitLimit is the compute budget of one transaction.
	ComputeUnitLimit uint64

	// MaxAirdropLamports caps a single requestAirdrop.
	MaxAirdropLamports uint64

	// RPC server configuration.
	RPCEnabled     bool
	RPCAddr        string
	RPCLogRequests bool

	// Geyser server configuration.
	GeyserEnabled bool
	GeyserAddr    string

	// GeyserToken is required from Geyser clients when set.
	// Supports environment variable expansion with ${VAR_NAME}.
	GeyserToken string

	// Version is reported over RPC.
	Version string

	// Clock overrides the wall clock (optional).
	Clock func() time.Time

	// Callbacks for monitoring.
	OnSlotProcessed func(slot uint64, bankHash types.Hash)
	OnError         func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	rtDefaults := runtime.DefaultConfig()
	return Config{
		DataDir:            "./data",
		VerifyLedger:       true,
		VotingProgramID:    rtDefaults.VotingProgramID,
		SlotDuration:       400 * time.Millisecond,
		ComputeUnitLimit:   rtDefaults.ComputeUnitLimit,
		MaxAirdropLamports: bank.DefaultConfig().MaxAirdropLamports,
		RPCEnabled:         true,
		RPCAddr:            ":8899",
		GeyserEnabled:      true,
		GeyserAddr:         ":10000",
		Version:            "dev",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrConfigInvalid)
	}
	if c.RPCEnabled && c.RPCAddr == "" {
		return fmt.Errorf("%w: rpc address is required", ErrConfigInvalid)
	}
	if c.GeyserEnabled && c.GeyserAddr == "" {
		return fmt.Errorf("%w: geyser address is required", ErrConfigInvalid)
	}
	return nil
}

// Node is a running ballot node.
type Node struct {
	config Config

	// Core components
	accounts     accounts.DB
	ledger       *ledger.Store
	runtime      *runtime.Runtime
	bank         *bank.Bank
	rpcServer    *rpc.Server
	geyserServer *geyser.Server

	// State management
	running     atomic.Bool
	startTime   time.Time
	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	slotsProcessed atomic.Uint64
	txsProcessed   atomic.Uint64
	currentSlot    atomic.Uint64
}

// New creates a node with the given configuration. Zero fields take their
// defaults. The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		config = &Config{}
	}
	defaults := DefaultConfig()
	if config.DataDir == "" {
		config.DataDir = defaults.DataDir
	}
	if config.SlotDuration == 0 {
		config.SlotDuration = defaults.SlotDuration
	}
	if config.VotingProgramID.IsZero() {
		config.VotingProgramID = defaults.VotingProgramID
	}
	if config.ComputeUnitLimit == 0 {
		config.ComputeUnitLimit = defaults.ComputeUnitLimit
	}
	if config.MaxAirdropLamports == 0 {
		config.MaxAirdropLamports = defaults.MaxAirdropLamports
	}
	if config.Version == "" {
		config.Version = defaults.Version
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Node{config: *config}, nil
}

// Start opens storage, starts the servers and the slot ticker. It returns
// once everything is running; Stop shuts the node down.
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if err := n.initialize(); err != nil {
		n.cancel()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	n.wg.Add(1)
	go n.slotLoop()

	if n.rpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("RPC server error: %w", err))
			}
		}()
	}

	if n.geyserServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.geyserServer.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("geyser server error: %w", err))
			}
		}()
	}

	klog.InfoS("Node started", "dataDir", n.config.DataDir, "slot", n.runtime.Slot(),
		"votingProgram", n.config.VotingProgramID)
	return nil
}

// initialize sets up all storage backends and components.
func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	if n.config.InMemoryAccounts {
		n.accounts = accounts.NewMemoryDB()
	} else {
		accts, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts")))
		if err != nil {
			return fmt.Errorf("open accounts database: %w", err)
		}
		n.accounts = accts
	}

	if err := n.loadInitialSnapshot(); err != nil {
		n.closeStorage()
		return fmt.Errorf("load snapshot: %w", err)
	}

	l, err := ledger.Open(ledger.DefaultConfig(filepath.Join(n.config.DataDir, "ledger", "ledger.db")))
	if err != nil {
		n.closeStorage()
		return fmt.Errorf("open ledger: %w", err)
	}
	n.ledger = l
	if n.config.VerifyLedger {
		if err := l.Verify(); err != nil {
			n.closeStorage()
			return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
		}
	}

	var opts []runtime.Option
	if n.config.Clock != nil {
		opts = append(opts, runtime.WithClock(n.config.Clock))
	}
	n.runtime = runtime.New(runtime.Config{
		VotingProgramID:  n.config.VotingProgramID,
		ComputeUnitLimit: n.config.ComputeUnitLimit,
	}, n.accounts, opts...)
	n.runtime.OnCommit(func(*runtime.Transaction, *runtime.Result) {
		n.txsProcessed.Add(1)
	})
	n.bank = bank.New(bank.Config{MaxAirdropLamports: n.config.MaxAirdropLamports}, n.runtime, n.ledger)
	n.currentSlot.Store(n.runtime.Slot())

	if n.config.GeyserEnabled {
		geyserConfig := geyser.DefaultServerConfig()
		geyserConfig.Addr = n.config.GeyserAddr
		geyserConfig.Token = n.config.GeyserToken
		n.geyserServer = geyser.NewServer(geyserConfig)
		n.geyserServer.PublishSlot(n.runtime.Slot(), types.Hash{})
		n.runtime.OnCommit(n.geyserServer.PublishTransaction)
	}

	if n.config.RPCEnabled {
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPCAddr
		rpcConfig.LogRequests = n.config.RPCLogRequests
		rpcConfig.EnableCORS = true
		rpcConfig.Version = n.config.Version
		n.rpcServer = rpc.New(rpcConfig, n.bank)
	}

	return nil
}

// loadInitialSnapshot loads the configured snapshot into an empty accounts
// database.
func (n *Node) loadInitialSnapshot() error {
	if n.config.SnapshotPath == "" {
		return nil
	}
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		klog.InfoS("Accounts database not empty, skipping snapshot", "path", n.config.SnapshotPath, "accounts", count)
		return nil
	}
	header, err := accounts.LoadSnapshot(n.accounts, n.config.SnapshotPath)
	if err != nil {
		return err
	}
	klog.InfoS("Loaded snapshot", "path", n.config.SnapshotPath, "slot", header.Slot,
		"accounts", header.AccountsCount, "hash", header.AccountsHash)
	return nil
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.ledger != nil {
		if err := n.ledger.Close(); err != nil {
			klog.ErrorS(err, "Failed to close ledger")
		}
		n.ledger = nil
	}
	if n.accounts != nil {
		if err := n.accounts.Close(); err != nil {
			klog.ErrorS(err, "Failed to close accounts database")
		}
		n.accounts = nil
	}
}

// slotLoop seals a slot on every tick.
// valueLogGCInterval is how often the Badger value log is compacted.
const valueLogGCInterval = 10 * time.Minute

func (n *Node) slotLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SlotDuration)
	defer ticker.Stop()
	gc := time.NewTicker(valueLogGCInterval)
	defer gc.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.endSlot(); err != nil {
				n.reportError(err)
			}
		case <-gc.C:
			if db, ok := n.accounts.(*accounts.BadgerDB); ok {
				if err := db.RunGC(); err != nil {
					klog.ErrorS(err, "Accounts value log GC failed")
				}
			}
		}
	}
}

func (n *Node) endSlot() error {
	slot, bankHash, err := n.bank.EndSlot()
	if err != nil {
		return fmt.Errorf("end slot: %w", err)
	}
	if err := n.accounts.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	n.slotsProcessed.Add(1)
	n.currentSlot.Store(slot + 1)

	if n.geyserServer != nil {
		n.geyserServer.PublishSlot(slot, bankHash)
	}
	if n.config.OnSlotProcessed != nil {
		n.config.OnSlotProcessed(slot, bankHash)
	}
	klog.V(3).InfoS("Slot sealed", "slot", slot, "bankHash", bankHash)
	return nil
}

func (n *Node) reportError(err error) {
	klog.ErrorS(err, "Node error")
	n.setLastError(err)
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	// Cancel context to stop the slot loop and both servers
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.geyserServer != nil {
		n.geyserServer.Stop()
	}

	if err := n.accounts.Commit(); err != nil {
		klog.ErrorS(err, "Failed to commit accounts")
	}
	n.closeStorage()

	n.running.Store(false)
	klog.InfoS("Node stopped", "uptime", time.Since(n.startTime))
	return nil
}

// Bank returns the node's bank, or nil before Start.
func (n *Node) Bank() *bank.Bank {
	return n.bank
}

// RPCAddr returns the bound RPC address, or nil if RPC is not serving.
func (n *Node) RPCAddr() net.Addr {
	if n.rpcServer == nil {
		return nil
	}
	return n.rpcServer.Addr()
}

// GeyserAddr returns the bound Geyser address, or nil if Geyser is not
// serving.
func (n *Node) GeyserAddr() net.Addr {
	if n.geyserServer == nil {
		return nil
	}
	return n.geyserServer.Addr()
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	st := &Status{
		CurrentSlot:    n.currentSlot.Load(),
		IsRunning:      n.running.Load(),
		SlotsProcessed: n.slotsProcessed.Load(),
		TxsProcessed:   n.txsProcessed.Load(),
		LastError:      n.getLastError(),
	}
	if !st.IsRunning {
		return st
	}

	st.Uptime = time.Since(n.startTime)
	st.AccountsCount, _ = n.accounts.AccountsCount()
	st.LedgerSequence, st.LedgerHash = n.ledger.Tip()
	st.BankHash = n.bank.BankHash()
	if n.geyserServer != nil {
		st.GeyserSubscribers = n.geyserServer.Subscribers()
	}
	if addr := n.RPCAddr(); addr != nil {
		st.RPCAddr = addr.String()
	}
	return st
}

// Status contains the current node status.
type Status struct {
	// CurrentSlot is the slot transactions are currently processed in.
	CurrentSlot uint64

	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// LedgerSequence and LedgerHash identify the ledger tip.
	LedgerSequence uint64
	LedgerHash     types.Hash

	// BankHash is the bank hash of the last sealed slot.
	BankHash types.Hash

	SlotsProcessed    uint64
	TxsProcessed      uint64
	GeyserSubscribers int

	// RPCAddr is the RPC server address if enabled.
	RPCAddr string

	// LastError is the most recent error encountered.
	LastError error
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
