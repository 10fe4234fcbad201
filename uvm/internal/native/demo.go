package native

import (
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

const DemoTemplate = "demo"

const (
	demoResult         = "demo result"
	demoDepositsKey    = "deposits"
	demoDepositCodeKey = "deposit_transfer_code"
	demoWithdrawnKey   = "withdrawn"
	demoLastDepositKey = "last_deposit"
)

// demo is a minimal value-holding contract: it accepts deposits and pays them out on request.
type demo struct {
	apis apiTable
}

func newDemo() *demo {
	d := &demo{}
	d.apis = apiTable{
		InitApi:            d.init,
		"hello":            d.hello,
		"contract_balance": d.contractBalance,
		"withdraw":         d.withdraw,
		OnDepositApi:       d.onDeposit,
	}
	return d
}

func (d *demo) Name() string {
	return DemoTemplate
}

func (d *demo) Apis() []string {
	return d.apis.names()
}

func (d *demo) OfflineApis() []string {
	return []string{"hello", "contract_balance"}
}

func (d *demo) OnceApis() []string {
	return []string{InitApi}
}

func (d *demo) Call(host Host, api, arg string) (string, error) {
	return d.apis.call(host, api, arg)
}

func (d *demo) init(host Host, _ string) (string, error) {
	return "", setInt(host, demoDepositsKey, 0)
}

func (d *demo) hello(host Host, arg string) (string, error) {
	if err := host.Emit("hello", arg); err != nil {
		return "", err
	}
	return demoResult, nil
}

func (d *demo) contractBalance(host Host, _ string) (string, error) {
	return host.Balance().String(), nil
}

// withdraw pays a coin amount such as "0.3" to the caller.
func (d *demo) withdraw(host Host, arg string) (string, error) {
	amount, err := types.ParseCoins(arg)
	if err != nil {
		return "", invalidArgument(err.Error())
	}
	if amount.IsZero() {
		return "", invalidArgument("withdraw amount must be positive")
	}
	code, err := host.Transfer(host.Caller(), amount)
	if err != nil {
		return "", err
	}
	if code != TransferOk {
		return "", types.NewVerboseError(types.ErrorInsufficientBalance, "transfer failed with code "+strconv.Itoa(code))
	}
	withdrawn, _, err := getInt(host, demoWithdrawnKey)
	if err != nil {
		return "", err
	}
	if err := setInt(host, demoWithdrawnKey, withdrawn+int64(amount.Uint64())); err != nil {
		return "", err
	}
	return strconv.Itoa(code), nil
}

// onDeposit counts deposits. Transfers are refused inside the handler, the code is kept for inspection.
func (d *demo) onDeposit(host Host, arg string) (string, error) {
	deposits, _, err := getInt(host, demoDepositsKey)
	if err != nil {
		return "", err
	}
	if err := setInt(host, demoDepositsKey, deposits+1); err != nil {
		return "", err
	}
	if err := setString(host, demoLastDepositKey, arg); err != nil {
		return "", err
	}
	code, err := host.Transfer(host.Caller(), types.NewValueFromUint64(1))
	if err != nil {
		return "", err
	}
	return "", setInt(host, demoDepositCodeKey, int64(code))
}
