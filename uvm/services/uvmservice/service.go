package uvmservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/commitment"
	"github.com/btccom/UnitedBitcoin/uvm/internal/config"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/execution"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/simulator"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/internal/utxo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var logger = logging.NewLogger("uvm")

var ErrStateAhead = errors.New("contract state is ahead of the ledger, roll back first")

// Block is an ordered list of transactions applied at Height.
type Block struct {
	Height       uint64
	Transactions []*ledger.Transaction
}

type Receipt struct {
	TxId    common.Hash                 `json:"txid"`
	Outcome *execution.ExecutionOutcome `json:"outcome,omitempty"`
	Spent   int                         `json:"spent"`
	Created int                         `json:"created"`
}

type BlockResult struct {
	Root     types.StateRoot `json:"root"`
	GasUsed  types.Gas       `json:"gasUsed"`
	Receipts []Receipt       `json:"receipts"`
}

type ContractInfo struct {
	Id          types.Address   `json:"id"`
	Type        string          `json:"type"`
	Template    string          `json:"template,omitempty"`
	Creator     types.Address   `json:"creator"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TxId        common.Hash     `json:"txid"`
	Version     uint32          `json:"version"`
	CreatedAt   uint64          `json:"createdAt"`
	Apis        []string        `json:"apis"`
	OfflineApis []string        `json:"offline_apis"`
	Balance     types.Value     `json:"balance"`
	Coins       decimal.Decimal `json:"coins"`
}

// Service owns the contract state of a ledger: it applies blocks, rolls them back and answers queries.
// Block application and rollback are serialized; queries and dry runs read committed snapshots concurrently.
type Service struct {
	mu sync.Mutex

	cfg        *config.Config
	db         db.DB
	ledger     ledger.Ledger
	commitment *commitment.Commitment
	engine     *execution.Engine
	simulator  *simulator.Simulator
	metrics    *metricsHandler

	closers []func()
}

// New builds a service over an open database and unspent output set.
func New(ctx context.Context, cfg *config.Config, database db.DB, l ledger.Ledger) (*Service, error) {
	c, err := commitment.New(ctx, database)
	if err != nil {
		return nil, err
	}
	metrics, err := newMetricsHandler("uvm")
	if err != nil {
		return nil, err
	}
	engine := execution.NewEngine(cfg.Execution, native.NewRegistry(cfg.Governance))
	return &Service{
		cfg:        cfg,
		db:         database,
		ledger:     l,
		commitment: c,
		engine:     engine,
		simulator:  simulator.New(database, c, engine),
		metrics:    metrics,
	}, nil
}

// Open creates the stores named by the configuration and builds a service over them.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	database, err := openDb(cfg.DB)
	if err != nil {
		return nil, err
	}

	var l ledger.Ledger
	var closeLedger func()
	if cfg.DB.UtxoPath != "" {
		set, err := utxo.OpenBoltSet(cfg.DB.UtxoPath)
		if err != nil {
			database.Close()
			return nil, err
		}
		l, closeLedger = set, func() { _ = set.Close() }
	} else {
		l = utxo.NewMemorySet()
	}

	s, err := New(ctx, cfg, database, l)
	if err != nil {
		if closeLedger != nil {
			closeLedger()
		}
		database.Close()
		return nil, err
	}
	if closeLedger != nil {
		s.closers = append(s.closers, closeLedger)
	}
	s.closers = append(s.closers, database.Close)
	return s, nil
}

func openDb(cfg config.DbConfig) (db.DB, error) {
	if cfg.Path == "" {
		return db.NewBadgerDbInMemory()
	}
	database, err := db.NewBadgerDb(cfg.Path)
	if err != nil {
		return nil, err
	}

	tx, err := database.CreateRoTx(context.Background())
	if err != nil {
		database.Close()
		return nil, err
	}
	outdated, err := db.IsVersionOutdated(tx)
	tx.Rollback()
	if err != nil {
		database.Close()
		return nil, err
	}
	if !outdated {
		return database, nil
	}
	if !cfg.AllowDrop {
		database.Close()
		return nil, fmt.Errorf("database %s has an outdated scheme version", cfg.Path)
	}
	logger.Warn().Str("path", cfg.Path).Msg("Clearing database with an outdated scheme version")
	if err := database.DropAll(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases the stores opened by Open.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Service) Engine() *execution.Engine {
	return s.engine
}

func (s *Service) Ledger() ledger.Ledger {
	return s.ledger
}

// Run runs f next to the value log collector of an on-disk database until either returns.
func (s *Service) Run(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	if s.cfg.DB.Path != "" {
		g.Go(func() error {
			return s.db.LogGC(gCtx, s.cfg.DB.DiscardRatio, s.cfg.DB.GcFrequency)
		})
	}
	g.Go(func() error {
		defer cancel()
		return f(gCtx)
	})
	return g.Wait()
}

// ApplyBlock executes every transaction of block in order, reconciles it with the unspent output set and
// commits the resulting state root at block.Height. Either the whole block is applied or nothing is.
func (s *Service) ApplyBlock(ctx context.Context, block *Block) (*BlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.startBlock()
	res, err := s.applyBlock(ctx, block)
	var gasUsed types.Gas
	if res != nil {
		gasUsed = res.GasUsed
	}
	s.metrics.endBlock(ctx, gasUsed, err == nil)
	if err != nil {
		logger.Error().Err(err).Uint64(logging.FieldBlockNumber, block.Height).Msg("Block rejected")
		return nil, err
	}
	logger.Info().
		Uint64(logging.FieldBlockNumber, block.Height).
		Int("txs", len(block.Transactions)).
		Stringer(logging.FieldGasUsed, res.GasUsed).
		Stringer(logging.FieldStateRoot, res.Root.Hash).
		Msg("Block applied")
	return res, nil
}

func (s *Service) applyBlock(ctx context.Context, block *Block) (*BlockResult, error) {
	best, err := s.ledger.BestHeight(ctx)
	if err != nil {
		return nil, err
	}
	ahead, err := s.commitment.IsCurrentAheadOfBestBlock(ctx, best)
	if err != nil {
		return nil, err
	}
	if ahead {
		return nil, ErrStateAhead
	}

	roTx, err := s.db.CreateRoTx(ctx)
	if err != nil {
		return nil, err
	}
	defer roTx.Rollback()

	current, err := s.commitment.Current(roTx)
	if err != nil {
		return nil, err
	}
	if block.Height <= current.Root.Height {
		return nil, fmt.Errorf("%w: %d <= %d", commitment.ErrHeightNotAscending, block.Height, current.Root.Height)
	}

	backend := contracts.NewOverlayBackend(roTx)
	es := execution.NewExecutionState(contracts.NewStore(backend, current.Roots()))
	params, err := s.engine.Params(es)
	if err != nil {
		return nil, err
	}

	view := ledger.NewBlockView(s.ledger)
	res := &BlockResult{}
	for _, tx := range block.Transactions {
		receipt, err := s.applyTx(ctx, es, view, block.Height, tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.TxId, err)
		}
		if receipt.Outcome != nil {
			res.GasUsed = res.GasUsed.Add(receipt.Outcome.GasUsed)
			if params.BlockGasLimit.Lt(res.GasUsed) {
				return nil, types.NewVerboseError(types.ErrorBlockGasLimitExceeded,
					fmt.Sprintf("block uses %s gas, limit is %s", res.GasUsed, params.BlockGasLimit))
			}
		}
		res.Receipts = append(res.Receipts, *receipt)
	}

	roots, err := es.Commit()
	if err != nil {
		return nil, err
	}

	rwTx, err := s.db.CreateRwTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rwTx.Rollback()

	if err := backend.Flush(rwTx); err != nil {
		return nil, err
	}
	if res.Root, err = s.commitment.Commit(ctx, rwTx, block.Height, roots); err != nil {
		return nil, err
	}
	if err := s.ledger.Connect(ctx, block.Height, view.Effects()); err != nil {
		return nil, err
	}
	if err := rwTx.Commit(); err != nil {
		if dErr := s.ledger.Disconnect(ctx, block.Height); dErr != nil {
			return nil, errors.Join(err, dErr)
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) applyTx(
	ctx context.Context,
	es *execution.ExecutionState,
	view *ledger.BlockView,
	height uint64,
	tx *ledger.Transaction,
) (*Receipt, error) {
	receipt := &Receipt{TxId: tx.TxId}
	var changes types.BalanceChanges
	var gasUsed types.Gas
	switch {
	case tx.Op != nil:
		outcome, err := s.engine.Execute(ctx, es, &execution.TxContext{TxId: tx.TxId, Height: height}, tx.Op, tx.Spends)
		s.metrics.recordOperation(ctx, tx.Op.OpCode(), err)
		if err != nil {
			return nil, err
		}
		receipt.Outcome = outcome
		changes, gasUsed = outcome.BalanceChanges, outcome.GasUsed
	case len(tx.Spends) != 0:
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "spend must accompany another contract operation")
	}

	effects, err := ledger.Reconcile(ctx, view, tx, changes, gasUsed, height)
	if err != nil {
		return nil, err
	}
	view.Apply(effects)
	receipt.Spent, receipt.Created = len(effects.Spent), len(effects.Created)
	return receipt, nil
}

// Rollback returns the contract state and the unspent output set to the end of block height.
func (s *Service) Rollback(ctx context.Context, height uint64) (types.StateRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback(ctx, height)
}

// RollbackToRoot rolls back to the most recent block below the current one that ended with state root hash.
func (s *Service) RollbackToRoot(ctx context.Context, hash common.Hash) (types.StateRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, err := s.commitment.HeightOf(ctx, hash)
	if err != nil {
		return types.StateRoot{}, err
	}
	return s.rollback(ctx, height)
}

func (s *Service) rollback(ctx context.Context, height uint64) (types.StateRoot, error) {
	current, err := s.commitment.CurrentRoot(ctx)
	if err != nil {
		return types.StateRoot{}, err
	}
	if height == current.Height {
		return types.StateRoot{}, fmt.Errorf("%w: %d", commitment.ErrAlreadyCurrent, height)
	}
	if _, err := s.commitment.RootAt(ctx, height); err != nil {
		return types.StateRoot{}, err
	}

	best, err := s.ledger.BestHeight(ctx)
	if err != nil {
		return types.StateRoot{}, err
	}
	for h := best; h > height; h-- {
		if err := s.ledger.Disconnect(ctx, h); err != nil {
			return types.StateRoot{}, err
		}
	}

	root, err := s.commitment.RollbackTo(ctx, height)
	if err != nil {
		return types.StateRoot{}, err
	}
	s.metrics.recordRollback(ctx)
	return root, nil
}
