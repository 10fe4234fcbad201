package native

import (
	"strconv"
	"strings"

	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	jsoniter "github.com/json-iterator/go"
)

const TokenTemplate = "token"

const (
	tokenStateNotInited = "NOT_INITED"
	tokenStateCommon    = "COMMON"

	tokenStateKey     = "state"
	tokenNameKey      = "name"
	tokenSymbolKey    = "symbol"
	tokenSupplyKey    = "supply"
	tokenPrecisionKey = "precision"
	tokenAdminKey     = "admin"
	tokenAllowLockKey = "allow_lock"

	balancePrefix = "balance."
	allowedPrefix = "allowed."
	lockPrefix    = "lock."
)

// token is a fungible token with allowances and time locks.
type token struct {
	apis apiTable
}

func newToken() *token {
	t := &token{}
	t.apis = apiTable{
		InitApi:               t.init,
		"init_token":          t.initToken,
		"state":               t.getString(tokenStateKey),
		"tokenName":           t.getString(tokenNameKey),
		"symbol":              t.getString(tokenSymbolKey),
		"supply":              t.getInt(tokenSupplyKey),
		"precision":           t.getInt(tokenPrecisionKey),
		"admin":               t.getString(tokenAdminKey),
		"balanceOf":           t.balanceOf,
		"transfer":            t.transfer,
		"approve":             t.approve,
		"approvedBalanceFrom": t.approvedBalanceFrom,
		"allApprovedFromUser": t.allApprovedFromUser,
		"transferFrom":        t.transferFrom,
		"openAllowLock":       t.openAllowLock,
		"lock":                t.lock,
		"lockedBalanceOf":     t.lockedBalanceOf,
		"unlock":              t.unlock,
	}
	return t
}

func (t *token) Name() string {
	return TokenTemplate
}

func (t *token) Apis() []string {
	return t.apis.names()
}

func (t *token) OfflineApis() []string {
	return []string{
		"state", "tokenName", "symbol", "supply", "precision", "admin",
		"balanceOf", "approvedBalanceFrom", "allApprovedFromUser", "lockedBalanceOf",
	}
}

func (t *token) OnceApis() []string {
	return []string{InitApi}
}

func (t *token) Call(host Host, api, arg string) (string, error) {
	return t.apis.call(host, api, arg)
}

func (t *token) init(host Host, _ string) (string, error) {
	if err := setString(host, tokenStateKey, tokenStateNotInited); err != nil {
		return "", err
	}
	return "", setString(host, tokenAdminKey, host.Caller().Hex())
}

func (t *token) getString(key string) apiFunc {
	return func(host Host, _ string) (string, error) {
		v, _, err := getString(host, key)
		return v, err
	}
}

func (t *token) getInt(key string) apiFunc {
	return func(host Host, _ string) (string, error) {
		v, _, err := getInt(host, key)
		return strconv.FormatInt(v, 10), err
	}
}

func (t *token) requireState(host Host, expected string) error {
	state, _, err := getString(host, tokenStateKey)
	if err != nil {
		return err
	}
	if state != expected {
		return invalidArgument("token state is " + state + ", expected " + expected)
	}
	return nil
}

func (t *token) requireAdmin(host Host) error {
	admin, _, err := getString(host, tokenAdminKey)
	if err != nil {
		return err
	}
	if admin != host.Caller().Hex() {
		return types.NewVerboseError(types.ErrorNotAdmin, "only the token admin can do this")
	}
	return nil
}

func (t *token) initToken(host Host, arg string) (string, error) {
	if err := t.requireAdmin(host); err != nil {
		return "", err
	}
	if err := t.requireState(host, tokenStateNotInited); err != nil {
		return "", err
	}
	parts, err := splitArgs(arg, 4)
	if err != nil {
		return "", err
	}
	name, symbol := parts[0], parts[1]
	if name == "" || symbol == "" {
		return "", invalidArgument("token name and symbol must not be empty")
	}
	supply, err := parsePositiveInt(parts[2])
	if err != nil {
		return "", err
	}
	precision, err := parsePositiveInt(parts[3])
	if err != nil {
		return "", err
	}

	for key, v := range map[string]string{tokenNameKey: name, tokenSymbolKey: symbol, tokenStateKey: tokenStateCommon} {
		if err := setString(host, key, v); err != nil {
			return "", err
		}
	}
	if err := setInt(host, tokenSupplyKey, supply); err != nil {
		return "", err
	}
	if err := setInt(host, tokenPrecisionKey, precision); err != nil {
		return "", err
	}
	if err := setInt(host, balancePrefix+host.Caller().Hex(), supply); err != nil {
		return "", err
	}
	return "", host.Emit("Inited", strconv.FormatInt(supply, 10))
}

func (t *token) balance(host Host, addr string) (int64, error) {
	v, _, err := getInt(host, balancePrefix+addr)
	return v, err
}

func (t *token) setBalance(host Host, addr string, v int64) error {
	if v == 0 {
		return host.DeleteStorage(balancePrefix + addr)
	}
	return setInt(host, balancePrefix+addr, v)
}

func (t *token) balanceOf(host Host, arg string) (string, error) {
	addr, err := parseAddress(arg)
	if err != nil {
		return "", err
	}
	v, err := t.balance(host, addr.Hex())
	return strconv.FormatInt(v, 10), err
}

// move transfers amount of tokens between two holders.
func (t *token) move(host Host, from, to string, amount int64) error {
	fromBalance, err := t.balance(host, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return types.NewVerboseError(types.ErrorInsufficientBalance, "insufficient token balance of "+from)
	}
	if err := t.setBalance(host, from, fromBalance-amount); err != nil {
		return err
	}
	toBalance, err := t.balance(host, to)
	if err != nil {
		return err
	}
	if err := t.setBalance(host, to, toBalance+amount); err != nil {
		return err
	}
	event, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(map[string]any{"from": from, "to": to, "amount": amount})
	if err != nil {
		return err
	}
	return host.Emit("Transfer", event)
}

func (t *token) transfer(host Host, arg string) (string, error) {
	if err := t.requireState(host, tokenStateCommon); err != nil {
		return "", err
	}
	parts, err := splitArgs(arg, 2)
	if err != nil {
		return "", err
	}
	to, err := parseAddress(parts[0])
	if err != nil {
		return "", err
	}
	amount, err := parsePositiveInt(parts[1])
	if err != nil {
		return "", err
	}
	return "", t.move(host, host.Caller().Hex(), to.Hex(), amount)
}

func (t *token) allowances(host Host, owner string) (map[string]int64, error) {
	raw, ok, err := getString(host, allowedPrefix+owner)
	if err != nil {
		return nil, err
	}
	res := make(map[string]int64)
	if !ok {
		return res, nil
	}
	if err := jsoniter.UnmarshalFromString(raw, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *token) setAllowances(host Host, owner string, allowed map[string]int64) error {
	if len(allowed) == 0 {
		return host.DeleteStorage(allowedPrefix + owner)
	}
	// map keys are sorted by the encoder
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(allowed)
	if err != nil {
		return err
	}
	return host.SetStorage(allowedPrefix+owner, types.NewCompositeStorageValue(data))
}

func (t *token) approve(host Host, arg string) (string, error) {
	if err := t.requireState(host, tokenStateCommon); err != nil {
		return "", err
	}
	parts, err := splitArgs(arg, 2)
	if err != nil {
		return "", err
	}
	spender, err := parseAddress(parts[0])
	if err != nil {
		return "", err
	}
	amount, err := parsePositiveInt(parts[1])
	if err != nil {
		return "", err
	}
	owner := host.Caller().Hex()
	allowed, err := t.allowances(host, owner)
	if err != nil {
		return "", err
	}
	allowed[spender.Hex()] = amount
	return "", t.setAllowances(host, owner, allowed)
}

func (t *token) approvedBalanceFrom(host Host, arg string) (string, error) {
	parts, err := splitArgs(arg, 2)
	if err != nil {
		return "", err
	}
	spender, err := parseAddress(parts[0])
	if err != nil {
		return "", err
	}
	owner, err := parseAddress(parts[1])
	if err != nil {
		return "", err
	}
	allowed, err := t.allowances(host, owner.Hex())
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(allowed[spender.Hex()], 10), nil
}

func (t *token) allApprovedFromUser(host Host, arg string) (string, error) {
	owner, err := parseAddress(arg)
	if err != nil {
		return "", err
	}
	raw, ok, err := getString(host, allowedPrefix+owner.Hex())
	if err != nil || !ok {
		return "{}", err
	}
	return raw, nil
}

func (t *token) transferFrom(host Host, arg string) (string, error) {
	if err := t.requireState(host, tokenStateCommon); err != nil {
		return "", err
	}
	parts, err := splitArgs(arg, 3)
	if err != nil {
		return "", err
	}
	from, err := parseAddress(parts[0])
	if err != nil {
		return "", err
	}
	to, err := parseAddress(parts[1])
	if err != nil {
		return "", err
	}
	amount, err := parsePositiveInt(parts[2])
	if err != nil {
		return "", err
	}

	spender := host.Caller().Hex()
	allowed, err := t.allowances(host, from.Hex())
	if err != nil {
		return "", err
	}
	if allowed[spender] < amount {
		return "", types.NewVerboseError(types.ErrorInsufficientBalance, "allowance of "+spender+" is too low")
	}
	allowed[spender] -= amount
	if allowed[spender] == 0 {
		delete(allowed, spender)
	}
	if err := t.setAllowances(host, from.Hex(), allowed); err != nil {
		return "", err
	}
	return "", t.move(host, from.Hex(), to.Hex(), amount)
}

func (t *token) openAllowLock(host Host, _ string) (string, error) {
	if err := t.requireAdmin(host); err != nil {
		return "", err
	}
	if err := t.requireState(host, tokenStateCommon); err != nil {
		return "", err
	}
	return "", setInt(host, tokenAllowLockKey, 1)
}

func (t *token) readLock(host Host, addr string) (int64, uint64, error) {
	raw, ok, err := getString(host, lockPrefix+addr)
	if err != nil || !ok {
		return 0, 0, err
	}
	amountStr, blockStr, found := strings.Cut(raw, ",")
	if !found {
		return 0, 0, invalidArgument("corrupted lock record")
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	block, err := strconv.ParseUint(blockStr, 10, 64)
	return amount, block, err
}

func (t *token) lock(host Host, arg string) (string, error) {
	if err := t.requireState(host, tokenStateCommon); err != nil {
		return "", err
	}
	allow, _, err := getInt(host, tokenAllowLockKey)
	if err != nil {
		return "", err
	}
	if allow == 0 {
		return "", invalidArgument("locking is not allowed for this token")
	}
	parts, err := splitArgs(arg, 2)
	if err != nil {
		return "", err
	}
	amount, err := parsePositiveInt(parts[0])
	if err != nil {
		return "", err
	}
	unlockBlock, err := parsePositiveInt(parts[1])
	if err != nil {
		return "", err
	}
	if uint64(unlockBlock) <= host.BlockHeight() {
		return "", invalidArgument("unlock block must be in the future")
	}

	owner := host.Caller().Hex()
	if locked, _, err := t.readLock(host, owner); err != nil {
		return "", err
	} else if locked != 0 {
		return "", invalidArgument("balance of " + owner + " is already locked")
	}
	balance, err := t.balance(host, owner)
	if err != nil {
		return "", err
	}
	if balance < amount {
		return "", types.NewVerboseError(types.ErrorInsufficientBalance, "insufficient token balance of "+owner)
	}
	if err := t.setBalance(host, owner, balance-amount); err != nil {
		return "", err
	}
	return "", setString(host, lockPrefix+owner, strconv.FormatInt(amount, 10)+","+strconv.FormatInt(unlockBlock, 10))
}

func (t *token) lockedBalanceOf(host Host, arg string) (string, error) {
	addr, err := parseAddress(arg)
	if err != nil {
		return "", err
	}
	amount, block, err := t.readLock(host, addr.Hex())
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(amount, 10) + "," + strconv.FormatUint(block, 10), nil
}

func (t *token) unlock(host Host, _ string) (string, error) {
	owner := host.Caller().Hex()
	amount, block, err := t.readLock(host, owner)
	if err != nil {
		return "", err
	}
	if amount == 0 {
		return "", invalidArgument("nothing is locked")
	}
	if host.BlockHeight() < block {
		return "", invalidArgument("balance is locked until block " + strconv.FormatUint(block, 10))
	}
	balance, err := t.balance(host, owner)
	if err != nil {
		return "", err
	}
	if err := host.DeleteStorage(lockPrefix + owner); err != nil {
		return "", err
	}
	return strconv.FormatInt(amount, 10), t.setBalance(host, owner, balance+amount)
}
