package uvmservice

import (
	"context"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/simulator"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

// view runs f on the committed contract store.
func (s *Service) view(ctx context.Context, f func(store *contracts.Store) error) error {
	tx, err := s.db.CreateRoTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := s.commitment.Current(tx)
	if err != nil {
		return err
	}
	return f(contracts.NewStore(contracts.NewOverlayBackend(tx), current.Roots()))
}

func (s *Service) GetContract(ctx context.Context, addr types.Address) (*types.ContractRecord, error) {
	var rec *types.ContractRecord
	err := s.view(ctx, func(store *contracts.Store) error {
		var err error
		rec, err = store.GetContract(addr)
		return err
	})
	return rec, err
}

func (s *Service) GetContractByName(ctx context.Context, name string) (*types.ContractRecord, error) {
	var rec *types.ContractRecord
	err := s.view(ctx, func(store *contracts.Store) error {
		var err error
		rec, err = store.GetContractByName(name)
		return err
	})
	return rec, err
}

// GetStorage reads one key of a contract storage. Missing keys are reported with ok == false.
func (s *Service) GetStorage(ctx context.Context, addr types.Address, key string) (value types.StorageValue, ok bool, err error) {
	err = s.view(ctx, func(store *contracts.Store) error {
		rec, err := store.GetContract(addr)
		if err != nil {
			return err
		}
		value, ok, err = store.ReadStorage(rec, key)
		return err
	})
	return value, ok, err
}

// ContractStorage lists the whole storage of a contract.
func (s *Service) ContractStorage(ctx context.Context, addr types.Address) ([]contracts.StorageItem, error) {
	var items []contracts.StorageItem
	err := s.view(ctx, func(store *contracts.Store) error {
		rec, err := store.GetContract(addr)
		if err != nil {
			return err
		}
		items, err = contracts.StorageItems(store.OpenStorage(rec.StorageRoot))
		return err
	})
	return items, err
}

func (s *Service) ContractInfo(ctx context.Context, addr types.Address) (*ContractInfo, error) {
	rec, err := s.GetContract(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &ContractInfo{
		Id:          rec.Address,
		Type:        rec.Kind.String(),
		Template:    rec.Template,
		Creator:     rec.Creator,
		Name:        rec.Name,
		Description: rec.Description,
		TxId:        rec.TxId,
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt,
		Apis:        rec.Apis,
		OfflineApis: rec.OfflineApis,
		Balance:     rec.Balance,
		Coins:       rec.Balance.Coins(),
	}, nil
}

func (s *Service) EventsByTx(ctx context.Context, txId common.Hash) (types.Events, error) {
	var events types.Events
	err := s.view(ctx, func(store *contracts.Store) error {
		var err error
		events, err = store.Events(txId)
		return err
	})
	return events, err
}

func (s *Service) CurrentRoot(ctx context.Context) (types.StateRoot, error) {
	return s.commitment.CurrentRoot(ctx)
}

func (s *Service) RootAt(ctx context.Context, height uint64) (types.StateRoot, error) {
	return s.commitment.RootAt(ctx, height)
}

// IsCurrentAheadOfBestBlock reports whether the contract state is ahead of the unspent output set.
func (s *Service) IsCurrentAheadOfBestBlock(ctx context.Context) (bool, error) {
	best, err := s.ledger.BestHeight(ctx)
	if err != nil {
		return false, err
	}
	return s.commitment.IsCurrentAheadOfBestBlock(ctx, best)
}

func (s *Service) Simulate(ctx context.Context, op types.Operation, opts simulator.Options) (*simulator.Result, error) {
	return s.simulator.Simulate(ctx, op, opts)
}

func (s *Service) InvokeOffline(
	ctx context.Context,
	caller, target types.Address,
	api, arg string,
) (*simulator.Result, error) {
	return s.simulator.InvokeOffline(ctx, caller, target, api, arg, simulator.Options{})
}
