package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	lua "github.com/yuin/gopher-lua"
)

const (
	luaCallStackSize = 120
	luaRegistrySize  = 1024 * 20
	luaChunkName     = "contract"

	offlineApisField = "offline_apis"
	onceApisField    = "once_apis"
	hostModuleName   = "uvm"
)

// Globals removed from the sandbox after opening the libraries.
var luaRemovedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module", "print", "collectgarbage", "_printregs",
}

type luaApis struct {
	apis, offline, once []string
}

// maxTransferArgSize bounds the address and amount strings passed to uvm.transfer.
const maxTransferArgSize = 128

// luaRuntime runs one contract chunk. Every instruction is charged to the meter,
// and strings built by the contract are charged by size.
type luaRuntime struct {
	ctx       context.Context
	L         *lua.LState
	meter     *GasMeter
	maxString int
	module    *lua.LTable
	host      native.Host
	hostErr   error
}

func newLuaRuntime(ctx context.Context, meter *GasMeter, maxString int) *luaRuntime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: luaCallStackSize,
		RegistrySize:  luaRegistrySize,
	})
	r := &luaRuntime{ctx: ctx, L: L, meter: meter, maxString: maxString}
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range luaRemovedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	// Functions whose output size is not bounded by their input are not available.
	if tbl, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		for _, name := range []string{"rep", "format", "gsub"} {
			tbl.RawSetString(name, lua.LNil)
		}
	}
	if tbl, ok := L.GetGlobal(lua.TabLibName).(*lua.LTable); ok {
		if fn, ok := tbl.RawGetString("concat").(*lua.LFunction); ok && fn.IsG {
			tbl.RawSetString("concat", L.NewFunction(r.tableConcat(fn.GFunction)))
		}
	}
	if tbl, ok := L.GetGlobal(lua.MathLibName).(*lua.LTable); ok {
		tbl.RawSetString("random", lua.LNil)
		tbl.RawSetString("randomseed", lua.LNil)
	}
	L.SetGlobal(luaConcatGlobal, L.NewFunction(r.concat))
	L.SetContext(newMeteredContext(ctx, meter))
	return r
}

func (r *luaRuntime) close() {
	r.L.Close()
}

// load runs the chunk, which must return the module table. The host module is not visible yet.
func (r *luaRuntime) load(code []byte) error {
	proto, err := compileLua(code)
	if err != nil {
		return types.NewVerboseError(types.ErrorInvalidCode, err.Error())
	}
	r.L.Push(r.L.NewFunctionFromProto(proto))
	if err := r.pcall(0); err != nil {
		if types.IsErrorCode(err, types.ErrorExecution) {
			return types.NewVerboseError(types.ErrorInvalidCode, err.Error())
		}
		return err
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	module, ok := ret.(*lua.LTable)
	if !ok {
		return types.NewVerboseError(types.ErrorInvalidCode, "contract chunk must return a table, got "+ret.Type().String())
	}
	r.module = module
	return nil
}

func (r *luaRuntime) stringList(field string) ([]string, error) {
	var res []string
	switch v := r.module.RawGetString(field).(type) {
	case *lua.LNilType:
	case *lua.LTable:
		for i := 1; i <= v.Len(); i++ {
			s, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				return nil, types.NewVerboseError(types.ErrorInvalidCode, field+" must list api names")
			}
			res = append(res, string(s))
		}
	default:
		return nil, types.NewVerboseError(types.ErrorInvalidCode, field+" must be a table")
	}
	slices.Sort(res)
	return slices.Compact(res), nil
}

// apis lists the function fields of the module together with the offline and once-only subsets.
func (r *luaRuntime) apis() (*luaApis, error) {
	res := &luaApis{}
	r.module.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if _, isFn := v.(*lua.LFunction); ok && isFn {
			res.apis = append(res.apis, string(name))
		}
	})
	slices.Sort(res.apis)

	var err error
	if res.offline, err = r.stringList(offlineApisField); err != nil {
		return nil, err
	}
	if res.once, err = r.stringList(onceApisField); err != nil {
		return nil, err
	}
	for _, api := range slices.Concat(res.offline, res.once) {
		if !slices.Contains(res.apis, api) {
			return nil, types.NewVerboseError(types.ErrorInvalidCode, "unknown api "+api)
		}
	}
	return res, nil
}

// bind exposes the host module to the contract.
func (r *luaRuntime) bind(host native.Host) {
	r.host = host
	mod := r.L.NewTable()
	r.L.SetFuncs(mod, map[string]lua.LGFunction{
		"get_storage":      r.getStorage,
		"set_storage":      r.setStorage,
		"caller":           r.caller,
		"contract_address": r.contractAddress,
		"block_height":     r.blockHeight,
		"tx_id":            r.txId,
		"balance":          r.balance,
		"transfer":         r.transfer,
		"emit":             r.emit,
		"invalid_argument": r.invalidArgument,
	})
	r.L.SetGlobal(hostModuleName, mod)
}

// call invokes M:api(arg) and converts the returned value to a string.
func (r *luaRuntime) call(api, arg string) (string, error) {
	fn, ok := r.module.RawGetString(api).(*lua.LFunction)
	if !ok {
		return "", types.NewVerboseError(types.ErrorNoSuchApi, api)
	}
	r.L.Push(fn)
	r.L.Push(r.module)
	r.L.Push(lua.LString(arg))
	if err := r.pcall(2); err != nil {
		return "", err
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	switch ret := ret.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString, lua.LNumber, lua.LBool:
		return ret.String(), nil
	default:
		return "", types.NewVerboseError(types.ErrorExecution, "api "+api+" returned a "+ret.Type().String())
	}
}

// pcall runs the function below nargs arguments and sorts out why it failed.
func (r *luaRuntime) pcall(nargs int) error {
	r.hostErr = nil
	err := r.L.PCall(nargs, 1, nil)
	switch {
	case r.meter.Exhausted():
		return types.NewOutOfGasError()
	case r.hostErr != nil:
		return r.hostErr
	case err == nil:
		return nil
	case r.ctx.Err() != nil:
		return r.ctx.Err()
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return types.NewVerboseError(types.ErrorExecution, apiErr.Object.String())
	}
	return types.NewVerboseError(types.ErrorExecution, err.Error())
}

// fail aborts the running contract with a host error. Lua pcall cannot swallow it.
func (r *luaRuntime) fail(L *lua.LState, err error) int {
	r.hostErr = err
	L.RaiseError("%s", err.Error())
	return 0
}

func (r *luaRuntime) getStorage(L *lua.LState) int {
	v, ok, err := r.host.GetStorage(L.CheckString(1))
	if err != nil {
		return r.fail(L, err)
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	if v.Kind == types.StorageValueInt {
		i, err := v.Int()
		if err != nil {
			return r.fail(L, err)
		}
		L.Push(lua.LNumber(i))
		return 1
	}
	L.Push(lua.LString(v.Data))
	return 1
}

func (r *luaRuntime) setStorage(L *lua.LState) int {
	key := L.CheckString(1)
	var err error
	switch v := L.Get(2).(type) {
	case *lua.LNilType:
		err = r.host.DeleteStorage(key)
	case lua.LNumber:
		i, ok := luaInteger(v)
		if !ok {
			return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, "only integral numbers can be stored"))
		}
		err = r.host.SetStorage(key, types.NewIntStorageValue(i))
	case lua.LString:
		err = r.host.SetStorage(key, types.NewStringStorageValue(string(v)))
	default:
		err = types.NewVerboseError(types.ErrorInvalidArgument, "cannot store a "+v.Type().String())
	}
	if err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *luaRuntime) caller(L *lua.LState) int {
	L.Push(lua.LString(r.host.Caller().Hex()))
	return 1
}

func (r *luaRuntime) contractAddress(L *lua.LState) int {
	L.Push(lua.LString(r.host.ContractAddress().Hex()))
	return 1
}

func (r *luaRuntime) blockHeight(L *lua.LState) int {
	L.Push(lua.LNumber(r.host.BlockHeight()))
	return 1
}

func (r *luaRuntime) txId(L *lua.LState) int {
	L.Push(lua.LString(r.host.TxId().Hex()))
	return 1
}

func (r *luaRuntime) balance(L *lua.LState) int {
	L.Push(lua.LNumber(r.host.Balance().Uint64()))
	return 1
}

// chargeString fails the contract if a string of size bytes may not be built, and pays for it otherwise.
func (r *luaRuntime) chargeString(size int) error {
	if size > r.maxString {
		return types.NewVerboseError(types.ErrorInvalidArgument,
			fmt.Sprintf("string of %d bytes exceeds the limit of %d", size, r.maxString))
	}
	return r.meter.Charge(types.Gas(size) * types.GasStringByte)
}

func concatOperand(v lua.LValue) (string, bool) {
	switch v := v.(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	}
	return "", false
}

// concat implements the .. operator for contract code.
func (r *luaRuntime) concat(L *lua.LState) int {
	lhs, ok := concatOperand(L.Get(1))
	if !ok {
		L.RaiseError("attempt to concatenate a %s value", L.Get(1).Type().String())
	}
	rhs, ok := concatOperand(L.Get(2))
	if !ok {
		L.RaiseError("attempt to concatenate a %s value", L.Get(2).Type().String())
	}
	if err := r.chargeString(len(lhs) + len(rhs)); err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LString(lhs + rhs))
	return 1
}

// tableConcat sizes the result of table.concat before the library builds it.
func (r *luaRuntime) tableConcat(concat lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		sep := L.OptString(2, "")
		size := 0
		for i, last := L.OptInt(3, 1), L.OptInt(4, tbl.Len()); i <= last; i++ {
			s, ok := concatOperand(tbl.RawGetInt(i))
			if !ok {
				// the library raises the error
				break
			}
			size += len(s)
			if i < last {
				size += len(sep)
			}
			if size > r.maxString {
				break
			}
		}
		if err := r.chargeString(size); err != nil {
			return r.fail(L, err)
		}
		return concat(L)
	}
}

// transfer(to, amount) takes the amount in smallest units, as an integer or a decimal string.
func (r *luaRuntime) transfer(L *lua.LState) int {
	toArg := L.CheckString(1)
	if len(toArg) > maxTransferArgSize {
		return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, "transfer target is too long"))
	}
	to, err := types.HexToAddress(toArg)
	if err != nil {
		return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, err.Error()))
	}
	var amount types.Value
	switch v := L.Get(2).(type) {
	case lua.LNumber:
		i, ok := luaInteger(v)
		if !ok || i < 0 {
			return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, "amount must be a non-negative integer"))
		}
		amount = types.NewValueFromUint64(uint64(i))
	case lua.LString:
		if len(v) > maxTransferArgSize {
			return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, "transfer amount is too long"))
		}
		if amount, err = types.NewValueFromDecimalString(string(v)); err != nil {
			return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, err.Error()))
		}
	default:
		return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, "amount must be a number or a string"))
	}
	code, err := r.host.Transfer(to, amount)
	if err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LNumber(code))
	return 1
}

func (r *luaRuntime) emit(L *lua.LState) int {
	if err := r.host.Emit(L.CheckString(1), L.OptString(2, "")); err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *luaRuntime) invalidArgument(L *lua.LState) int {
	return r.fail(L, types.NewVerboseError(types.ErrorInvalidArgument, L.OptString(1, "invalid argument")))
}

func luaInteger(n lua.LNumber) (int64, bool) {
	f := float64(n)
	if math.Trunc(f) != f || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
