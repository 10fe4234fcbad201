package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/commitment"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/stretchr/testify/suite"
)

type SuiteCommands struct {
	suite.Suite

	dir  string
	user types.Address
	txA  common.Hash
	txB  common.Hash
}

func (s *SuiteCommands) SetupTest() {
	s.dir = s.T().TempDir()
	s.user = types.BytesToAddress([]byte("user"))
	s.txA = common.KeccakHash([]byte("genesis"))
	s.txB = common.KeccakHash([]byte("create"))
}

func (s *SuiteCommands) run(args ...string) (string, error) {
	s.T().Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{
		"--db-path", filepath.Join(s.dir, "db"),
		"--utxo-path", filepath.Join(s.dir, "utxo.db"),
		"--env-file", "",
		"--log-level", "error",
		"--json",
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (s *SuiteCommands) mustRun(args ...string) string {
	s.T().Helper()
	out, err := s.run(args...)
	s.Require().NoError(err)
	return out
}

func (s *SuiteCommands) writeFile(name, content string) string {
	s.T().Helper()
	content = strings.NewReplacer(
		"$USER", s.user.Hex(),
		"$TXA", s.txA.Hex(),
		"$TXB", s.txB.Hex(),
	).Replace(content)
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *SuiteCommands) decode(out string) map[string]any {
	s.T().Helper()
	var res map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &res))
	return res
}

const demoBlock = `
height: 1
transactions:
  - txid: $TXB
    inputs: ["$TXA:0"]
    outputs:
      - address: $USER
        amount: "9.9"
    fee: "0.1"
    op:
      type: create_native
      caller: $USER
      gasLimit: 1000000
      template: demo
`

// applyDemoBlock seeds one output and applies a block creating the demo contract from it.
func (s *SuiteCommands) applyDemoBlock() map[string]any {
	s.T().Helper()
	s.mustRun("genesis", s.writeFile("genesis.yaml", `
utxos:
  - outpoint: "$TXA:0"
    address: $USER
    amount: "10"
`))
	return s.decode(s.mustRun("apply", s.writeFile("block1.yaml", demoBlock)))
}

func (s *SuiteCommands) TestApplyQueryRollback() {
	res := s.applyDemoBlock()
	s.Require().Len(res["receipts"], 1)

	demo := types.CreateContractAddress(s.txB).Hex()
	info := s.decode(s.mustRun("contract", "info", demo))
	s.Equal("native", info["type"])
	s.Equal(native.DemoTemplate, info["template"])

	invoked := s.decode(s.mustRun("invoke", demo, "contract_balance", "--caller", s.user.Hex()))
	s.Equal("0", invoked["result"])

	_, err := s.run("invoke", demo, "withdraw", "1")
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchApi), "%v", err)
	s.Contains(err.Error(), "use simulate")

	utxo := s.decode(s.mustRun("utxo", s.txB.Hex()+":0"))
	s.EqualValues(1, utxo["height"])

	// the genesis output is spent
	_, err = s.run("utxo", s.txA.Hex()+":0")
	s.Require().Error(err)

	s.mustRun("rollback", "0")
	_, err = s.run("contract", "info", demo)
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchContract), "%v", err)
	s.mustRun("utxo", s.txA.Hex()+":0")
}

func (s *SuiteCommands) TestRollbackToRoot() {
	s.applyDemoBlock()
	current := s.decode(s.mustRun("root"))
	s.EqualValues(1, current["height"])

	_, err := s.run("rollback", "--root", current["hash"].(string))
	s.Require().ErrorIs(err, commitment.ErrAlreadyCurrent)
	_, err = s.run("rollback", "--root", common.EmptyHash.Hex(), "1")
	s.Require().Error(err)

	root := s.decode(s.mustRun("rollback", "--root", common.EmptyHash.Hex()))
	s.EqualValues(0, root["height"])
	_, err = s.run("contract", "info", types.CreateContractAddress(s.txB).Hex())
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchContract), "%v", err)
}

func (s *SuiteCommands) TestContractAddress() {
	var created []map[string]any
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun("contract", "address", s.txB.Hex())), &created))
	s.Require().Len(created, 1)
	s.Equal(types.CreateContractAddress(s.txB).Hex(), created[0]["address"])

	created = nil
	out := s.mustRun("contract", "address", s.writeFile("block1.yaml", demoBlock))
	s.Require().NoError(json.Unmarshal([]byte(out), &created))
	s.Require().Len(created, 1)
	s.Equal(s.txB.Hex(), created[0]["txid"])
	s.Equal(types.CreateContractAddress(s.txB).Hex(), created[0]["address"])

	_, err := s.run("contract", "address", filepath.Join(s.dir, "missing.yaml"))
	s.Require().Error(err)
}

func (s *SuiteCommands) TestSimulate() {
	out := s.mustRun("simulate", s.writeFile("op.yaml", `
type: create_native
caller: $USER
template: token
`), "--txid", s.txB.Hex())

	res := s.decode(out)
	s.Equal(types.CreateContractAddress(s.txB).Hex(), res["contractAddress"])
	s.EqualValues(1, res["height"])

	root := s.decode(s.mustRun("root"))
	s.EqualValues(0, root["height"])
}

func (s *SuiteCommands) TestGenesisNeedsUtxoFile() {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", "", "genesis", s.writeFile("genesis.yaml", "utxos: []\n")})
	s.Require().ErrorIs(cmd.ExecuteContext(context.Background()), errInMemory)
}

func TestSuiteCommands(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(SuiteCommands))
}
