package native

import (
	"slices"
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	jsoniter "github.com/json-iterator/go"
)

const GovernanceTemplate = "dgp"

// Governance parameters, stored as integers under these keys.
const (
	ParamMinGasPrice        = "min_gas_price"
	ParamBlockGasLimit      = "block_gas_limit"
	ParamMinGasCount        = "min_gas_count"
	ParamMaxCodeStoreFeeGas = "max_contract_bytecode_store_fee_gas_count"
)

const (
	adminsKey        = "admins"
	adminProposalKey = "admin_proposal"
	paramProposalKey = "param_proposal"
	proposalSeqKey   = "proposal_seq"

	proposalKindAdmin = "admin"
	proposalKindParam = "param"

	voteApplied = "applied"
	voteCounted = "voted"
)

// Params are the network parameters controlled by governance.
type Params struct {
	MinGasPrice        uint64
	BlockGasLimit      types.Gas
	MinGasCount        types.Gas
	MaxCodeStoreFeeGas types.Gas
}

func DefaultParams() Params {
	return Params{
		MinGasPrice:        types.DefaultMinGasPrice,
		BlockGasLimit:      types.DefaultMaxGasInBlock,
		MinGasCount:        types.DefaultMinGasCount,
		MaxCodeStoreFeeGas: types.DefaultMaxCodeStoreFeeGas,
	}
}

// StorageReader reads one key of a contract storage.
type StorageReader func(key string) (types.StorageValue, bool, error)

// ReadParams reads the parameters of a governance contract. Missing keys keep the values of defaults.
func ReadParams(read StorageReader, defaults Params) (Params, error) {
	res := defaults
	for key, dst := range map[string]*uint64{
		ParamMinGasPrice:        &res.MinGasPrice,
		ParamBlockGasLimit:      (*uint64)(&res.BlockGasLimit),
		ParamMinGasCount:        (*uint64)(&res.MinGasCount),
		ParamMaxCodeStoreFeeGas: (*uint64)(&res.MaxCodeStoreFeeGas),
	} {
		v, ok, err := read(key)
		if err != nil {
			return Params{}, err
		}
		if !ok {
			continue
		}
		i, err := v.Int()
		if err != nil {
			return Params{}, err
		}
		*dst = uint64(i)
	}
	return res, nil
}

type proposal struct {
	Id             int64    `json:"id"`
	Kind           string   `json:"kind"`
	Proposer       string   `json:"proposer"`
	CreatedAt      uint64   `json:"createdAt"`
	VotableAfter   uint64   `json:"votableAfter"`
	ExpiresAt      uint64   `json:"expiresAt,omitempty"`
	NeedAgreeCount int      `json:"needAgreeCount"`
	Agree          []string `json:"agree"`
	Disagree       []string `json:"disagree"`

	Address string `json:"address,omitempty"`
	Add     bool   `json:"add,omitempty"`

	Param string `json:"param,omitempty"`
	Value int64  `json:"value,omitempty"`
}

func (p *proposal) expired(height uint64) bool {
	return p.ExpiresAt != 0 && height >= p.ExpiresAt
}

// vote records the vote of voter. Votes are sets keyed by voter, a repeated vote replaces the previous one.
func (p *proposal) vote(voter string, agree bool) {
	p.Agree = slices.DeleteFunc(p.Agree, func(s string) bool { return s == voter })
	p.Disagree = slices.DeleteFunc(p.Disagree, func(s string) bool { return s == voter })
	if agree {
		p.Agree = append(p.Agree, voter)
	} else {
		p.Disagree = append(p.Disagree, voter)
	}
}

type adminChangeRequest struct {
	Address        string `json:"address"`
	Add            bool   `json:"add"`
	NeedAgreeCount int    `json:"needAgreeCount"`
}

type governance struct {
	cfg  Config
	apis apiTable
}

func newGovernance(cfg *Config) *governance {
	g := &governance{cfg: *cfg}
	g.apis = apiTable{
		InitApi:                          g.init,
		"admins":                         g.admins,
		"create_change_admin_proposal":   g.createChangeAdminProposal,
		"vote_admin":                     g.voteAdmin,
		"current_change_admin_proposal":  g.currentProposal(adminProposalKey),
		"cancel_change_admin_proposal":   g.cancelProposal(adminProposalKey),
		"current_change_params_proposal": g.currentProposal(paramProposalKey),
		"cancel_change_params_proposal":  g.cancelProposal(paramProposalKey),
		"vote_change_param":              g.voteChangeParam,
	}
	for _, param := range []string{ParamMinGasPrice, ParamBlockGasLimit, ParamMinGasCount, ParamMaxCodeStoreFeeGas} {
		g.apis[param] = g.getParam(param)
		g.apis["set_"+param] = g.setParam(param)
	}
	return g
}

func (g *governance) Name() string {
	return GovernanceTemplate
}

func (g *governance) Apis() []string {
	return g.apis.names()
}

func (g *governance) OfflineApis() []string {
	return []string{
		"admins",
		"current_change_admin_proposal",
		"current_change_params_proposal",
		ParamMinGasPrice,
		ParamBlockGasLimit,
		ParamMinGasCount,
		ParamMaxCodeStoreFeeGas,
	}
}

func (g *governance) OnceApis() []string {
	return []string{InitApi}
}

func (g *governance) Call(host Host, api, arg string) (string, error) {
	return g.apis.call(host, api, arg)
}

func (g *governance) init(host Host, _ string) (string, error) {
	if err := g.writeAdmins(host, []string{host.Caller().Hex()}); err != nil {
		return "", err
	}
	defaults := DefaultParams()
	for key, v := range map[string]uint64{
		ParamMinGasPrice:        defaults.MinGasPrice,
		ParamBlockGasLimit:      defaults.BlockGasLimit.Uint64(),
		ParamMinGasCount:        defaults.MinGasCount.Uint64(),
		ParamMaxCodeStoreFeeGas: defaults.MaxCodeStoreFeeGas.Uint64(),
	} {
		if err := setInt(host, key, int64(v)); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (g *governance) readAdmins(host Host) ([]string, error) {
	raw, ok, err := getString(host, adminsKey)
	if err != nil || !ok {
		return nil, err
	}
	var admins []string
	if err := jsoniter.UnmarshalFromString(raw, &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

func (g *governance) writeAdmins(host Host, admins []string) error {
	data, err := jsoniter.Marshal(admins)
	if err != nil {
		return err
	}
	return host.SetStorage(adminsKey, types.NewCompositeStorageValue(data))
}

func (g *governance) requireAdmin(host Host) ([]string, error) {
	admins, err := g.readAdmins(host)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(admins, host.Caller().Hex()) {
		return nil, types.NewVerboseError(types.ErrorNotAdmin, host.Caller().Hex())
	}
	return admins, nil
}

func (g *governance) admins(host Host, _ string) (string, error) {
	raw, _, err := getString(host, adminsKey)
	return raw, err
}

func (g *governance) readProposal(host Host, key string) (*proposal, error) {
	raw, ok, err := getString(host, key)
	if err != nil || !ok {
		return nil, err
	}
	var p proposal
	if err := jsoniter.UnmarshalFromString(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *governance) writeProposal(host Host, key string, p *proposal) error {
	data, err := jsoniter.Marshal(p)
	if err != nil {
		return err
	}
	return host.SetStorage(key, types.NewCompositeStorageValue(data))
}

// newProposal allocates a proposal unless a live one of the same kind exists.
func (g *governance) newProposal(host Host, key, kind string, needAgreeCount int) (*proposal, error) {
	prev, err := g.readProposal(host, key)
	if err != nil {
		return nil, err
	}
	height := host.BlockHeight()
	if prev != nil && !prev.expired(height) {
		return nil, types.NewVerboseError(types.ErrorProposalExists, strconv.FormatInt(prev.Id, 10))
	}

	seq, _, err := getInt(host, proposalSeqKey)
	if err != nil {
		return nil, err
	}
	seq++
	if err := setInt(host, proposalSeqKey, seq); err != nil {
		return nil, err
	}

	p := &proposal{
		Id:             seq,
		Kind:           kind,
		Proposer:       host.Caller().Hex(),
		CreatedAt:      height,
		VotableAfter:   height + g.cfg.VoteDelay,
		NeedAgreeCount: needAgreeCount,
		Agree:          []string{},
		Disagree:       []string{},
	}
	if g.cfg.ProposalExpiryBlocks != 0 {
		p.ExpiresAt = height + g.cfg.ProposalExpiryBlocks
	}
	return p, nil
}

func (g *governance) createChangeAdminProposal(host Host, arg string) (string, error) {
	admins, err := g.requireAdmin(host)
	if err != nil {
		return "", err
	}

	var req adminChangeRequest
	if err := jsoniter.UnmarshalFromString(arg, &req); err != nil {
		return "", invalidArgument("malformed admin change request: " + err.Error())
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		return "", err
	}
	if req.NeedAgreeCount < 1 || req.NeedAgreeCount > len(admins) {
		return "", invalidArgument("needAgreeCount must be between 1 and the number of admins")
	}
	isAdmin := slices.Contains(admins, addr.Hex())
	switch {
	case req.Add && isAdmin:
		return "", invalidArgument(addr.Hex() + " is already an admin")
	case !req.Add && !isAdmin:
		return "", invalidArgument(addr.Hex() + " is not an admin")
	case !req.Add && len(admins) == 1:
		return "", invalidArgument("the last admin cannot be removed")
	}

	p, err := g.newProposal(host, adminProposalKey, proposalKindAdmin, req.NeedAgreeCount)
	if err != nil {
		return "", err
	}
	p.Address = addr.Hex()
	p.Add = req.Add
	if err := g.writeProposal(host, adminProposalKey, p); err != nil {
		return "", err
	}
	return strconv.FormatInt(p.Id, 10), nil
}

func (g *governance) setParam(param string) apiFunc {
	return func(host Host, arg string) (string, error) {
		admins, err := g.requireAdmin(host)
		if err != nil {
			return "", err
		}
		parts, err := splitArgs(arg, 2)
		if err != nil {
			return "", err
		}
		value, err := parsePositiveInt(parts[0])
		if err != nil {
			return "", err
		}
		need, err := parsePositiveInt(parts[1])
		if err != nil {
			return "", err
		}
		if need > int64(len(admins)) {
			return "", invalidArgument("needAgreeCount exceeds the number of admins")
		}

		p, err := g.newProposal(host, paramProposalKey, proposalKindParam, int(need))
		if err != nil {
			return "", err
		}
		p.Param = param
		p.Value = value
		if err := g.writeProposal(host, paramProposalKey, p); err != nil {
			return "", err
		}
		return strconv.FormatInt(p.Id, 10), nil
	}
}

func (g *governance) getParam(param string) apiFunc {
	return func(host Host, _ string) (string, error) {
		v, _, err := getInt(host, param)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	}
}

func parseVote(arg string) (bool, error) {
	switch arg {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, invalidArgument("vote must be true or false")
}

// vote casts the caller's vote on the proposal under key and applies it on reaching the agree count.
func (g *governance) vote(host Host, key, arg string, apply func(p *proposal) error) (string, error) {
	if _, err := g.requireAdmin(host); err != nil {
		return "", err
	}
	agree, err := parseVote(arg)
	if err != nil {
		return "", err
	}
	p, err := g.readProposal(host, key)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", types.NewError(types.ErrorNoProposal)
	}
	height := host.BlockHeight()
	if p.expired(height) {
		return "", types.NewVerboseError(types.ErrorProposalExpired, strconv.FormatInt(p.Id, 10))
	}
	if height < p.VotableAfter {
		return "", types.NewVerboseError(types.ErrorNotYetVotable,
			"proposal can be voted from block "+strconv.FormatUint(p.VotableAfter, 10))
	}

	p.vote(host.Caller().Hex(), agree)
	if len(p.Agree) < p.NeedAgreeCount {
		return voteCounted, g.writeProposal(host, key, p)
	}

	if err := apply(p); err != nil {
		return "", err
	}
	if err := host.DeleteStorage(key); err != nil {
		return "", err
	}
	logger.Info().
		Stringer(logging.FieldContractAddress, host.ContractAddress()).
		Int64(logging.FieldProposalId, p.Id).
		Uint64(logging.FieldBlockNumber, height).
		Msgf("Governance proposal %s applied", p.Kind)
	if err := host.Emit("proposal_applied", strconv.FormatInt(p.Id, 10)); err != nil {
		return "", err
	}
	return voteApplied, nil
}

func (g *governance) voteAdmin(host Host, arg string) (string, error) {
	return g.vote(host, adminProposalKey, arg, func(p *proposal) error {
		admins, err := g.readAdmins(host)
		if err != nil {
			return err
		}
		if p.Add {
			if !slices.Contains(admins, p.Address) {
				admins = append(admins, p.Address)
			}
		} else {
			admins = slices.DeleteFunc(admins, func(s string) bool { return s == p.Address })
			if len(admins) == 0 {
				return invalidArgument("the last admin cannot be removed")
			}
		}
		return g.writeAdmins(host, admins)
	})
}

func (g *governance) voteChangeParam(host Host, arg string) (string, error) {
	return g.vote(host, paramProposalKey, arg, func(p *proposal) error {
		return setInt(host, p.Param, p.Value)
	})
}

func (g *governance) currentProposal(key string) apiFunc {
	return func(host Host, _ string) (string, error) {
		raw, _, err := getString(host, key)
		return raw, err
	}
}

func (g *governance) cancelProposal(key string) apiFunc {
	return func(host Host, _ string) (string, error) {
		if _, err := g.requireAdmin(host); err != nil {
			return "", err
		}
		p, err := g.readProposal(host, key)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "", types.NewError(types.ErrorNoProposal)
		}
		if p.Proposer != host.Caller().Hex() {
			return "", types.NewVerboseError(types.ErrorNotAdmin, "only the proposer can cancel a proposal")
		}
		if err := host.DeleteStorage(key); err != nil {
			return "", err
		}
		return strconv.FormatInt(p.Id, 10), nil
	}
}
