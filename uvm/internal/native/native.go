package native

import (
	"slices"
	"strconv"
	"strings"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var logger = logging.NewLogger("native")

// Result codes of Host.Transfer.
const (
	TransferOk                  = 0
	TransferInsufficientBalance = -5
	TransferInDepositHandler    = -7
)

// Names of the hooks every contract kind may define.
const (
	InitApi          = "init"
	OnDepositApi     = "on_deposit_asset"
	onceMarkerPrefix = "__once__."
)

// Host is the view of the chain a contract runs against. Storage access, transfers and events charge gas.
type Host interface {
	Caller() types.Address
	ContractAddress() types.Address
	Creator() types.Address
	BlockHeight() uint64
	TxId() common.Hash

	GetStorage(key string) (types.StorageValue, bool, error)
	SetStorage(key string, value types.StorageValue) error
	DeleteStorage(key string) error

	Balance() types.Value
	// Transfer moves amount from the contract to an address and returns one of the Transfer* codes.
	Transfer(to types.Address, amount types.Value) (int, error)
	Emit(name, arg string) error
}

// Contract is a built-in contract template.
type Contract interface {
	Name() string
	Apis() []string
	OfflineApis() []string
	OnceApis() []string
	Call(host Host, api, arg string) (string, error)
}

// Config holds the parameters of the governance template.
type Config struct {
	// VoteDelay is the number of blocks after creation before a proposal accepts votes.
	VoteDelay uint64 `yaml:"voteDelay" mapstructure:"voteDelay"`
	// ProposalExpiryBlocks drops an unresolved proposal that many blocks after creation. Zero disables expiry.
	ProposalExpiryBlocks uint64 `yaml:"proposalExpiryBlocks" mapstructure:"proposalExpiryBlocks"`
}

const DefaultVoteDelay = 10

func NewDefaultConfig() *Config {
	return &Config{VoteDelay: DefaultVoteDelay}
}

type Registry struct {
	templates map[string]Contract
}

func NewRegistry(cfg *Config) *Registry {
	r := &Registry{templates: make(map[string]Contract)}
	r.Register(newGovernance(cfg))
	r.Register(newToken())
	r.Register(newDemo())
	return r
}

func (r *Registry) Register(c Contract) {
	r.templates[c.Name()] = c
}

func (r *Registry) Get(name string) (Contract, bool) {
	c, ok := r.templates[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OnceMarkerKey is the storage key recording that a once-only api was invoked.
func OnceMarkerKey(api string) string {
	return onceMarkerPrefix + api
}

func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, onceMarkerPrefix)
}

// api dispatch table shared by the templates
type apiFunc func(host Host, arg string) (string, error)

type apiTable map[string]apiFunc

func (t apiTable) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (t apiTable) call(host Host, api, arg string) (string, error) {
	fn, ok := t[api]
	if !ok {
		return "", types.NewVerboseError(types.ErrorNoSuchApi, api)
	}
	return fn(host, arg)
}

func invalidArgument(format string) error {
	return types.NewVerboseError(types.ErrorInvalidArgument, format)
}

// splitArgs splits a comma separated argument string and checks the number of parts.
func splitArgs(arg string, n int) ([]string, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != n {
		return nil, invalidArgument("expected " + strconv.Itoa(n) + " comma separated arguments")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func parseAddress(s string) (types.Address, error) {
	addr, err := types.HexToAddress(s)
	if err != nil {
		return types.EmptyAddress, invalidArgument(err.Error())
	}
	return addr, nil
}

func parsePositiveInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, invalidArgument("expected a positive integer, got " + strconv.Quote(s))
	}
	return v, nil
}

func getInt(host Host, key string) (int64, bool, error) {
	v, ok, err := host.GetStorage(key)
	if err != nil || !ok {
		return 0, false, err
	}
	i, err := v.Int()
	return i, true, err
}

func getString(host Host, key string) (string, bool, error) {
	v, ok, err := host.GetStorage(key)
	if err != nil || !ok {
		return "", false, err
	}
	return string(v.Data), true, nil
}

func setInt(host Host, key string, v int64) error {
	return host.SetStorage(key, types.NewIntStorageValue(v))
}

func setString(host Host, key, v string) error {
	return host.SetStorage(key, types.NewStringStorageValue(v))
}
