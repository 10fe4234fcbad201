package execution

import (
	"context"
	"fmt"
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	jsoniter "github.com/json-iterator/go"
)

// TxContext identifies the transaction carrying an operation.
type TxContext struct {
	TxId   common.Hash
	Height uint64
	// Offline runs skip the gas price and gas count floors and take the contract debits as declared spends.
	Offline bool
}

type ExecutionOutcome struct {
	Result          string               `json:"result"`
	GasUsed         types.Gas            `json:"gasUsed"`
	BalanceChanges  types.BalanceChanges `json:"balanceChanges"`
	Events          types.Events         `json:"events,omitempty"`
	ContractAddress types.Address        `json:"contractAddress"`
}

// depositArg is passed to on_deposit_asset.
type depositArg struct {
	Num    uint64 `json:"num"`
	Symbol string `json:"symbol"`
	Param  string `json:"param"`
}

const DepositSymbol = "UBTC"

type Engine struct {
	cfg      Config
	registry *native.Registry
}

func NewEngine(cfg *Config, registry *native.Registry) *Engine {
	return &Engine{cfg: *cfg, registry: registry}
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Registry() *native.Registry {
	return e.registry
}

func (e *Engine) defaultParams() native.Params {
	params := native.DefaultParams()
	params.MinGasPrice = e.cfg.DefaultMinGasPrice
	return params
}

// Params returns the governance parameters in force, or the defaults before governance exists.
func (e *Engine) Params(es *ExecutionState) (native.Params, error) {
	addr, ok, err := es.GovernanceAddress()
	if err != nil || !ok {
		return e.defaultParams(), err
	}
	cs, err := es.GetContract(addr)
	if err != nil {
		return native.Params{}, err
	}
	return native.ReadParams(cs.GetState, e.defaultParams())
}

// opRun is the state of one operation being executed.
type opRun struct {
	ctx     context.Context
	engine  *Engine
	es      *ExecutionState
	txc     *TxContext
	meter   *GasMeter
	params  native.Params
	caller  types.Address
	changes types.BalanceChanges
}

// Execute runs one operation against es. On error every change of the operation is reverted.
func (e *Engine) Execute(
	ctx context.Context,
	es *ExecutionState,
	txc *TxContext,
	op types.Operation,
	spends []types.SpendOp,
) (*ExecutionOutcome, error) {
	if txc.Height < e.cfg.ContractActivationHeight {
		return nil, types.NewVerboseError(types.ErrorContractsDisabledBeforeActivationHeight,
			"contracts activate at block "+strconv.FormatUint(e.cfg.ContractActivationHeight, 10))
	}
	hop, ok := op.(types.HeaderedOperation)
	if !ok {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "spend must accompany another contract operation")
	}
	header := hop.Header()
	if header.Version != types.OperationVersion {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, fmt.Sprintf("unsupported operation version %d", header.Version))
	}
	params, err := e.Params(es)
	if err != nil {
		return nil, err
	}
	if !txc.Offline {
		if floor := types.NewValueFromUint64(params.MinGasPrice); header.GasPrice.Lt(floor) {
			return nil, types.NewVerboseError(types.ErrorGasPriceBelowFloor,
				fmt.Sprintf("gas price %s is below %s", header.GasPrice, floor))
		}
		if header.GasLimit.Lt(params.MinGasCount) {
			return nil, types.NewVerboseError(types.ErrorInvalidArgument,
				fmt.Sprintf("gas limit %s is below %s", header.GasLimit, params.MinGasCount))
		}
	}
	for _, spend := range spends {
		if _, err := es.GetContract(spend.Source); err != nil {
			return nil, err
		}
	}

	run := &opRun{
		ctx:    ctx,
		engine: e,
		es:     es,
		txc:    txc,
		meter:  NewGasMeter(header.GasLimit),
		params: params,
		caller: header.Caller,
	}
	eventsBefore := len(es.Events(txc.TxId))
	snapshot := es.Snapshot()

	outcome, err := run.dispatch(op)
	if err == nil {
		if txc.Offline {
			spends = run.changes.ContractDebits()
		}
		err = run.reconcile(spends)
	}
	if err != nil {
		es.RevertToSnapshot(snapshot)
		logger.Debug().
			Err(err).
			Stringer(logging.FieldTxId, txc.TxId).
			Stringer(logging.FieldOperation, op.OpCode()).
			Stringer(logging.FieldErrorCode, types.GetErrorCode(err)).
			Stringer(logging.FieldGasUsed, run.meter.Used()).
			Msg("Operation failed")
		return nil, err
	}

	outcome.GasUsed = run.meter.Used()
	outcome.BalanceChanges = run.changes.Merge()
	outcome.Events = append(types.Events(nil), es.Events(txc.TxId)[eventsBefore:]...)
	logger.Debug().
		Stringer(logging.FieldTxId, txc.TxId).
		Stringer(logging.FieldOperation, op.OpCode()).
		Stringer(logging.FieldContractAddress, outcome.ContractAddress).
		Stringer(logging.FieldGasUsed, outcome.GasUsed).
		Msg("Operation executed")
	return outcome, nil
}

// Query runs an offline api and discards every change.
func (e *Engine) Query(
	ctx context.Context,
	es *ExecutionState,
	txc *TxContext,
	caller, target types.Address,
	api, arg string,
) (*ExecutionOutcome, error) {
	cs, err := es.GetContract(target)
	if err != nil {
		return nil, err
	}
	if !cs.Record.IsOfflineApi(api) {
		return nil, types.NewVerboseError(types.ErrorNoSuchApi, "offline api "+api)
	}
	run := &opRun{
		ctx:    ctx,
		engine: e,
		es:     es,
		txc:    txc,
		meter:  NewGasMeter(e.cfg.OfflineGasLimit),
		caller: caller,
	}
	snapshot := es.Snapshot()
	defer es.RevertToSnapshot(snapshot)

	res, err := run.invoke(cs, api, arg, false)
	if err != nil {
		return nil, err
	}
	return &ExecutionOutcome{Result: res, GasUsed: run.meter.Used(), ContractAddress: target}, nil
}

func (r *opRun) dispatch(op types.Operation) (*ExecutionOutcome, error) {
	switch op := op.(type) {
	case *types.CreateOp:
		return r.create(op)
	case *types.CreateNativeOp:
		return r.createNative(op)
	case *types.CallOp:
		return r.call(op)
	case *types.UpgradeOp:
		return r.upgrade(op)
	case *types.DepositOp:
		return r.deposit(op)
	}
	return nil, types.NewVerboseError(types.ErrorInvalidArgument, "unexpected operation "+op.OpCode().String())
}

// reconcile checks that the operation conserves value and that contract debits match the declared spends.
func (r *opRun) reconcile(spends []types.SpendOp) error {
	merged := r.changes.Merge()
	if net := merged.Net(); net.Sign() != 0 {
		return types.NewVerboseError(types.ErrorBalanceConservationViolation, "operation changes total value by "+net.String())
	}

	debits := merged.ContractDebits()
	declared := make(map[types.Address]types.Value, len(spends))
	for _, spend := range spends {
		sum, err := declared[spend.Source].AddOverflow(spend.Amount)
		if err != nil {
			return types.NewVerboseError(types.ErrorSpendDeclarationMismatch, err.Error())
		}
		declared[spend.Source] = sum
	}
	if len(declared) != len(debits) {
		return types.NewVerboseError(types.ErrorSpendDeclarationMismatch,
			fmt.Sprintf("%d contracts declared, %d debited", len(declared), len(debits)))
	}
	for _, debit := range debits {
		if amount, ok := declared[debit.Source]; !ok || amount.Cmp(debit.Amount) != 0 {
			return types.NewVerboseError(types.ErrorSpendDeclarationMismatch,
				fmt.Sprintf("contract %s is debited %s, declared %s", debit.Source, debit.Amount, amount))
		}
	}
	return nil
}

func (r *opRun) registrationGas(codeSize int) types.Gas {
	storeGas := types.Gas(codeSize) * types.GasCreatePerByte
	if r.params.MaxCodeStoreFeeGas.Lt(storeGas) {
		storeGas = r.params.MaxCodeStoreFeeGas
	}
	return types.GasCreateBase.Add(storeGas)
}

func (r *opRun) newRecord(kind types.ContractKind) *types.ContractRecord {
	return &types.ContractRecord{
		Address:   types.CreateContractAddress(r.txc.TxId),
		Kind:      kind,
		Version:   1,
		Creator:   r.caller,
		TxId:      r.txc.TxId,
		CreatedAt: r.txc.Height,
	}
}

func (r *opRun) create(op *types.CreateOp) (*ExecutionOutcome, error) {
	if len(op.Code) == 0 || len(op.Code) > r.engine.cfg.MaxCodeSize {
		return nil, types.NewVerboseError(types.ErrorInvalidCode, fmt.Sprintf("code size %d", len(op.Code)))
	}
	if err := r.meter.Charge(r.registrationGas(len(op.Code))); err != nil {
		return nil, err
	}

	rt := newLuaRuntime(r.ctx, r.meter, r.engine.cfg.MaxStorageValueSize)
	defer rt.close()
	if err := rt.load(op.Code); err != nil {
		return nil, err
	}
	apis, err := rt.apis()
	if err != nil {
		return nil, err
	}

	codeHash, err := r.es.store.PutCode(op.Code)
	if err != nil {
		return nil, err
	}
	rec := r.newRecord(types.ContractKindUserCode)
	rec.CodeHash = codeHash
	rec.Apis = apis.apis
	rec.OfflineApis = apis.offline
	rec.OnceApis = apis.once
	cs, err := r.es.CreateContract(rec)
	if err != nil {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, err.Error())
	}

	res := ""
	if rec.HasApi(native.InitApi) {
		rt.bind(&contractHost{run: r, contract: cs})
		if res, err = rt.call(native.InitApi, ""); err != nil {
			return nil, err
		}
	}
	logger.Info().
		Stringer(logging.FieldContractAddress, rec.Address).
		Stringer(logging.FieldCaller, r.caller).
		Msg("Contract created")
	return &ExecutionOutcome{Result: res, ContractAddress: rec.Address}, nil
}

func (r *opRun) createNative(op *types.CreateNativeOp) (*ExecutionOutcome, error) {
	tmpl, ok := r.engine.registry.Get(op.Template)
	if !ok {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "unknown native contract "+op.Template)
	}
	if err := r.meter.Charge(types.GasCreateBase.Add(types.GasNativeApi)); err != nil {
		return nil, err
	}

	rec := r.newRecord(types.ContractKindNative)
	rec.Template = tmpl.Name()
	rec.Apis = tmpl.Apis()
	rec.OfflineApis = tmpl.OfflineApis()
	rec.OnceApis = tmpl.OnceApis()
	cs, err := r.es.CreateContract(rec)
	if err != nil {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, err.Error())
	}

	res := ""
	if rec.HasApi(native.InitApi) {
		if res, err = tmpl.Call(&contractHost{run: r, contract: cs}, native.InitApi, ""); err != nil {
			return nil, err
		}
	}
	if tmpl.Name() == native.GovernanceTemplate {
		if _, exists, err := r.es.GovernanceAddress(); err != nil {
			return nil, err
		} else if !exists {
			r.es.SetGovernanceAddress(rec.Address)
		}
	}
	logger.Info().
		Stringer(logging.FieldContractAddress, rec.Address).
		Str(logging.FieldContractTemplate, rec.Template).
		Stringer(logging.FieldCaller, r.caller).
		Msg("Native contract created")
	return &ExecutionOutcome{Result: res, ContractAddress: rec.Address}, nil
}

func (r *opRun) call(op *types.CallOp) (*ExecutionOutcome, error) {
	cs, err := r.es.GetContract(op.Target)
	if err != nil {
		return nil, err
	}
	if op.Api == native.InitApi || op.Api == native.OnDepositApi {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "api "+op.Api+" cannot be called directly")
	}
	if !cs.Record.HasApi(op.Api) {
		return nil, types.NewVerboseError(types.ErrorNoSuchApi, op.Api)
	}
	if cs.Record.IsOnceApi(op.Api) {
		if err := r.markOnce(cs, op.Api); err != nil {
			return nil, err
		}
	}
	res, err := r.invoke(cs, op.Api, op.Arg, false)
	if err != nil {
		return nil, err
	}
	return &ExecutionOutcome{Result: res, ContractAddress: op.Target}, nil
}

// markOnce records the invocation of a once-only api or fails if it was invoked before.
func (r *opRun) markOnce(cs *ContractState, api string) error {
	if err := r.meter.Charge(types.GasStorageRead); err != nil {
		return err
	}
	key := native.OnceMarkerKey(api)
	_, invoked, err := cs.GetState(key)
	if err != nil {
		return err
	}
	if invoked {
		return types.NewAlreadyInvokedError(api)
	}
	if err := r.meter.Charge(types.GasStorageWrite); err != nil {
		return err
	}
	cs.SetState(key, types.NewIntStorageValue(1))
	return nil
}

// invoke runs api of a loaded contract, native or Lua.
func (r *opRun) invoke(cs *ContractState, api, arg string, inDeposit bool) (string, error) {
	host := &contractHost{run: r, contract: cs, inDeposit: inDeposit}
	if cs.Record.IsNative() {
		tmpl, ok := r.engine.registry.Get(cs.Record.Template)
		if !ok {
			return "", types.NewVerboseError(types.ErrorExecution, "native contract "+cs.Record.Template+" is not registered")
		}
		if err := r.meter.Charge(types.GasNativeApi); err != nil {
			return "", err
		}
		return tmpl.Call(host, api, arg)
	}

	code, err := r.es.store.GetCode(cs.Record.CodeHash)
	if err != nil {
		return "", err
	}
	rt := newLuaRuntime(r.ctx, r.meter, r.engine.cfg.MaxStorageValueSize)
	defer rt.close()
	if err := rt.load(code); err != nil {
		return "", err
	}
	rt.bind(host)
	return rt.call(api, arg)
}

func (r *opRun) upgrade(op *types.UpgradeOp) (*ExecutionOutcome, error) {
	cs, err := r.es.GetContract(op.Target)
	if err != nil {
		return nil, err
	}
	if cs.Record.Creator != r.caller {
		return nil, types.NewVerboseError(types.ErrorNotContractOwner, r.caller.Hex())
	}
	if cs.Record.Name != "" {
		return nil, types.NewVerboseError(types.ErrorContractAlreadyNamed, cs.Record.Name)
	}
	if err := r.meter.Charge(types.GasUpgrade); err != nil {
		return nil, err
	}
	if err := r.es.BindName(op.Name, op.Target); err != nil {
		return nil, err
	}
	cs.SetInfo(op.Name, op.Description)
	logger.Info().
		Stringer(logging.FieldContractAddress, op.Target).
		Str(logging.FieldContractName, op.Name).
		Msg("Contract named")
	return &ExecutionOutcome{ContractAddress: op.Target}, nil
}

func (r *opRun) deposit(op *types.DepositOp) (*ExecutionOutcome, error) {
	if op.Amount.IsZero() || !op.Amount.IsUint64() {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "invalid deposit amount "+op.Amount.String())
	}
	cs, err := r.es.GetContract(op.Target)
	if err != nil {
		return nil, err
	}
	if err := r.meter.Charge(types.GasDeposit); err != nil {
		return nil, err
	}
	if err := cs.AddBalance(op.Amount); err != nil {
		return nil, err
	}
	r.changes = append(r.changes,
		types.BalanceChange{Address: r.caller, Amount: op.Amount},
		types.BalanceChange{Address: op.Target, Amount: op.Amount, IsContract: true, IsAdd: true},
	)

	res := ""
	if cs.Record.HasApi(native.OnDepositApi) {
		arg, err := jsoniter.MarshalToString(depositArg{Num: op.Amount.Uint64(), Symbol: DepositSymbol, Param: op.Memo})
		if err != nil {
			return nil, err
		}
		if res, err = r.invoke(cs, native.OnDepositApi, arg, true); err != nil {
			return nil, err
		}
	}
	return &ExecutionOutcome{Result: res, ContractAddress: op.Target}, nil
}
