package native

import (
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type emitted struct {
	name, arg string
}

type transferred struct {
	to     types.Address
	amount types.Value
}

// testHost keeps contract storage in a map.
type testHost struct {
	caller    types.Address
	contract  types.Address
	creator   types.Address
	height    uint64
	balance   types.Value
	inDeposit bool

	storage   map[string]types.StorageValue
	events    []emitted
	transfers []transferred
}

func newTestHost(caller types.Address) *testHost {
	return &testHost{
		caller:   caller,
		contract: types.BytesToAddress([]byte("contract")),
		creator:  caller,
		storage:  make(map[string]types.StorageValue),
	}
}

var _ Host = (*testHost)(nil)

func (h *testHost) Caller() types.Address          { return h.caller }
func (h *testHost) ContractAddress() types.Address { return h.contract }
func (h *testHost) Creator() types.Address         { return h.creator }
func (h *testHost) BlockHeight() uint64            { return h.height }
func (h *testHost) TxId() common.Hash              { return common.EmptyHash }
func (h *testHost) Balance() types.Value           { return h.balance }

func (h *testHost) GetStorage(key string) (types.StorageValue, bool, error) {
	v, ok := h.storage[key]
	return v, ok, nil
}

func (h *testHost) SetStorage(key string, value types.StorageValue) error {
	h.storage[key] = value
	return nil
}

func (h *testHost) DeleteStorage(key string) error {
	delete(h.storage, key)
	return nil
}

func (h *testHost) Transfer(to types.Address, amount types.Value) (int, error) {
	if h.inDeposit {
		return TransferInDepositHandler, nil
	}
	if h.balance.Lt(amount) {
		return TransferInsufficientBalance, nil
	}
	h.balance = h.balance.Sub(amount)
	h.transfers = append(h.transfers, transferred{to, amount})
	return TransferOk, nil
}

func (h *testHost) Emit(name, arg string) error {
	h.events = append(h.events, emitted{name, arg})
	return nil
}

func addr(b byte) types.Address {
	return types.BytesToAddress([]byte{b})
}

func call(t *testing.T, c Contract, host *testHost, api, arg string) string {
	t.Helper()
	res, err := c.Call(host, api, arg)
	require.NoError(t, err)
	return res
}

func callErr(t *testing.T, c Contract, host *testHost, api, arg string, code types.ErrorCode) {
	t.Helper()
	_, err := c.Call(host, api, arg)
	require.Error(t, err)
	require.Equal(t, code, types.GetErrorCode(err), err.Error())
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(NewDefaultConfig())
	require.Equal(t, []string{DemoTemplate, GovernanceTemplate, TokenTemplate}, r.Names())

	for _, name := range r.Names() {
		c, ok := r.Get(name)
		require.True(t, ok)
		apis := c.Apis()
		require.IsIncreasing(t, apis)
		require.Subset(t, apis, c.OfflineApis(), name)
		require.Subset(t, apis, c.OnceApis(), name)
	}

	_, ok := r.Get("missing")
	require.False(t, ok)

	require.True(t, IsReservedKey(OnceMarkerKey("init")))
	require.False(t, IsReservedKey("init"))
}

type SuiteGovernance struct {
	suite.Suite

	dgp   Contract
	host  *testHost
	admin types.Address
}

func (s *SuiteGovernance) SetupTest() {
	s.dgp = newGovernance(&Config{VoteDelay: 10, ProposalExpiryBlocks: 100})
	s.admin = addr(1)
	s.host = newTestHost(s.admin)
	s.host.height = 5
	_, err := s.dgp.Call(s.host, InitApi, "")
	s.Require().NoError(err)
}

func (s *SuiteGovernance) as(a types.Address) *testHost {
	s.host.caller = a
	return s.host
}

func (s *SuiteGovernance) params() Params {
	p, err := ReadParams(func(key string) (types.StorageValue, bool, error) {
		return s.host.GetStorage(key)
	}, Params{})
	s.Require().NoError(err)
	return p
}

func (s *SuiteGovernance) TestInit() {
	s.Equal(DefaultParams(), s.params())
	s.Equal(`["`+s.admin.Hex()+`"]`, call(s.T(), s.dgp, s.host, "admins", ""))
	s.Equal("10", call(s.T(), s.dgp, s.host, ParamMinGasPrice, ""))
}

func (s *SuiteGovernance) TestParamChangeWaitsForVoteDelay() {
	id := call(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,1")
	s.Equal("1", id)

	callErr(s.T(), s.dgp, s.host, "vote_change_param", "true", types.ErrorNotYetVotable)
	s.Equal(uint64(10), s.params().MinGasPrice)

	s.host.height = 15
	s.Equal(voteApplied, call(s.T(), s.dgp, s.host, "vote_change_param", "true"))
	s.Equal(uint64(20), s.params().MinGasPrice)
	s.Equal([]emitted{{"proposal_applied", "1"}}, s.host.events)

	// applied exactly once
	callErr(s.T(), s.dgp, s.host, "vote_change_param", "true", types.ErrorNoProposal)
	s.Empty(call(s.T(), s.dgp, s.host, "current_change_params_proposal", ""))
}

func (s *SuiteGovernance) TestOnlyAdmins() {
	stranger := addr(9)
	callErr(s.T(), s.dgp, s.as(stranger), "set_"+ParamMinGasPrice, "20,1", types.ErrorNotAdmin)

	call(s.T(), s.dgp, s.as(s.admin), "set_"+ParamMinGasPrice, "20,1")
	s.host.height = 20
	callErr(s.T(), s.dgp, s.as(stranger), "vote_change_param", "true", types.ErrorNotAdmin)
	callErr(s.T(), s.dgp, s.as(stranger), "cancel_change_params_proposal", "", types.ErrorNotAdmin)
}

func (s *SuiteGovernance) TestSingleLiveProposal() {
	call(s.T(), s.dgp, s.host, "set_"+ParamMinGasCount, "200,1")
	callErr(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,1", types.ErrorProposalExists)

	call(s.T(), s.dgp, s.host, "cancel_change_params_proposal", "")
	s.Equal("2", call(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,1"))
}

func (s *SuiteGovernance) TestExpiredProposal() {
	call(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,1")

	s.host.height = 105
	callErr(s.T(), s.dgp, s.host, "vote_change_param", "true", types.ErrorProposalExpired)
	s.Equal(uint64(10), s.params().MinGasPrice)

	// an expired proposal does not block a new one
	s.Equal("2", call(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "30,1"))
}

func (s *SuiteGovernance) TestAdminChanges() {
	second := addr(2)
	callErr(s.T(), s.dgp, s.host, "create_change_admin_proposal",
		`{"address":"`+s.admin.Hex()+`","add":false,"needAgreeCount":1}`, types.ErrorInvalidArgument)

	call(s.T(), s.dgp, s.host, "create_change_admin_proposal",
		`{"address":"`+second.Hex()+`","add":true,"needAgreeCount":1}`)
	s.host.height = 20
	s.Equal(voteApplied, call(s.T(), s.dgp, s.host, "vote_admin", "true"))
	s.Equal(`["`+s.admin.Hex()+`","`+second.Hex()+`"]`, call(s.T(), s.dgp, s.host, "admins", ""))

	// two admins must agree to remove one
	call(s.T(), s.dgp, s.as(second), "create_change_admin_proposal",
		`{"address":"`+s.admin.Hex()+`","add":false,"needAgreeCount":2}`)
	s.host.height = 40
	s.Equal(voteCounted, call(s.T(), s.dgp, s.as(second), "vote_admin", "true"))
	s.Equal(voteCounted, call(s.T(), s.dgp, s.as(second), "vote_admin", "true"))
	s.Equal(voteCounted, call(s.T(), s.dgp, s.as(s.admin), "vote_admin", "false"))
	s.Equal(voteApplied, call(s.T(), s.dgp, s.as(s.admin), "vote_admin", "true"))
	s.Equal(`["`+second.Hex()+`"]`, call(s.T(), s.dgp, s.host, "admins", ""))

	// the last admin stays
	callErr(s.T(), s.dgp, s.as(second), "create_change_admin_proposal",
		`{"address":"`+second.Hex()+`","add":false,"needAgreeCount":1}`, types.ErrorInvalidArgument)
}

func (s *SuiteGovernance) TestMalformedArguments() {
	callErr(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20", types.ErrorInvalidArgument)
	callErr(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "-1,1", types.ErrorInvalidArgument)
	callErr(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,2", types.ErrorInvalidArgument)
	callErr(s.T(), s.dgp, s.host, "create_change_admin_proposal", "{", types.ErrorInvalidArgument)
	call(s.T(), s.dgp, s.host, "set_"+ParamMinGasPrice, "20,1")
	s.host.height = 20
	callErr(s.T(), s.dgp, s.host, "vote_change_param", "yes", types.ErrorInvalidArgument)
	callErr(s.T(), s.dgp, s.host, "no_such_api", "", types.ErrorNoSuchApi)
}

func TestSuiteGovernance(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(SuiteGovernance))
}

func TestToken(t *testing.T) {
	t.Parallel()

	tok := newToken()
	admin, other, spender := addr(1), addr(2), addr(3)
	host := newTestHost(admin)
	host.height = 10

	call(t, tok, host, InitApi, "")
	require.Equal(t, tokenStateNotInited, call(t, tok, host, "state", ""))
	callErr(t, tok, host, "transfer", other.Hex()+",1", types.ErrorInvalidArgument)

	host.caller = other
	callErr(t, tok, host, "init_token", "test,TEST,1000000,100", types.ErrorNotAdmin)
	host.caller = admin

	call(t, tok, host, "init_token", "test,TEST,1000000,100")
	callErr(t, tok, host, "init_token", "test,TEST,1000000,100", types.ErrorInvalidArgument)
	require.Equal(t, "test", call(t, tok, host, "tokenName", ""))
	require.Equal(t, "TEST", call(t, tok, host, "symbol", ""))
	require.Equal(t, "1000000", call(t, tok, host, "supply", ""))
	require.Equal(t, "100", call(t, tok, host, "precision", ""))

	call(t, tok, host, "transfer", other.Hex()+",10000")
	require.Equal(t, "990000", call(t, tok, host, "balanceOf", admin.Hex()))
	require.Equal(t, "10000", call(t, tok, host, "balanceOf", other.Hex()))
	callErr(t, tok, host, "transfer", other.Hex()+",2000000", types.ErrorInsufficientBalance)
	callErr(t, tok, host, "transfer", other.Hex()+",0", types.ErrorInvalidArgument)

	// allowances
	call(t, tok, host, "approve", spender.Hex()+",500")
	require.Equal(t, "500", call(t, tok, host, "approvedBalanceFrom", spender.Hex()+","+admin.Hex()))
	require.Equal(t, `{"`+spender.Hex()+`":500}`, call(t, tok, host, "allApprovedFromUser", admin.Hex()))

	host.caller = spender
	callErr(t, tok, host, "transferFrom", admin.Hex()+","+other.Hex()+",501", types.ErrorInsufficientBalance)
	call(t, tok, host, "transferFrom", admin.Hex()+","+other.Hex()+",500")
	require.Equal(t, "0", call(t, tok, host, "approvedBalanceFrom", spender.Hex()+","+admin.Hex()))
	require.Equal(t, "{}", call(t, tok, host, "allApprovedFromUser", admin.Hex()))
	require.Equal(t, "10500", call(t, tok, host, "balanceOf", other.Hex()))

	// locks
	host.caller = other
	callErr(t, tok, host, "lock", "100,20", types.ErrorInvalidArgument)
	callErr(t, tok, host, "openAllowLock", "", types.ErrorNotAdmin)
	host.caller = admin
	call(t, tok, host, "openAllowLock", "")

	host.caller = other
	callErr(t, tok, host, "lock", "100,10", types.ErrorInvalidArgument)
	call(t, tok, host, "lock", "100,20")
	callErr(t, tok, host, "lock", "100,30", types.ErrorInvalidArgument)
	require.Equal(t, "100,20", call(t, tok, host, "lockedBalanceOf", other.Hex()))
	require.Equal(t, "10400", call(t, tok, host, "balanceOf", other.Hex()))
	callErr(t, tok, host, "unlock", "", types.ErrorInvalidArgument)

	host.height = 20
	require.Equal(t, "100", call(t, tok, host, "unlock", ""))
	require.Equal(t, "0,0", call(t, tok, host, "lockedBalanceOf", other.Hex()))
	require.Equal(t, "10500", call(t, tok, host, "balanceOf", other.Hex()))
}

func TestDemo(t *testing.T) {
	t.Parallel()

	d := newDemo()
	caller := addr(7)
	host := newTestHost(caller)
	call(t, d, host, InitApi, "")

	require.Equal(t, demoResult, call(t, d, host, "hello", "world"))
	require.Equal(t, []emitted{{"hello", "world"}}, host.events)

	host.balance = types.NewValueFromUint64(50_000_000)
	require.Equal(t, "50000000", call(t, d, host, "contract_balance", ""))
	require.Equal(t, "0", call(t, d, host, "withdraw", "0.3"))
	require.Equal(t, []transferred{{caller, types.NewValueFromUint64(30_000_000)}}, host.transfers)
	callErr(t, d, host, "withdraw", "0.3", types.ErrorInsufficientBalance)
	callErr(t, d, host, "withdraw", "0", types.ErrorInvalidArgument)
	callErr(t, d, host, "withdraw", "abc", types.ErrorInvalidArgument)

	host.inDeposit = true
	call(t, d, host, OnDepositApi, `{"num":100,"symbol":"UBTC","param":"memo"}`)
	code, ok, err := getInt(host, demoDepositCodeKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(TransferInDepositHandler), code)
	deposits, _, err := getInt(host, demoDepositsKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), deposits)
}
