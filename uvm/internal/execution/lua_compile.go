package execution

import (
	"bytes"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// luaConcatGlobal replaces the .. operator in contract code. It is not a valid Lua identifier,
// so contract code cannot shadow it with a local.
const luaConcatGlobal = "@concat"

// compileLua compiles a contract chunk with every concatenation turned into a call of luaConcatGlobal.
func compileLua(code []byte) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(code), luaChunkName)
	if err != nil {
		return nil, err
	}
	meterConcatStmts(chunk)
	return lua.Compile(chunk, luaChunkName)
}

func meterConcatStmts(stmts []ast.Stmt) {
	for _, stmt := range stmts {
		meterConcatStmt(stmt)
	}
}

func meterConcatExprs(exprs []ast.Expr) {
	for i, e := range exprs {
		exprs[i] = meterConcat(e)
	}
}

func meterConcatStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		meterConcatExprs(s.Lhs)
		meterConcatExprs(s.Rhs)
	case *ast.LocalAssignStmt:
		meterConcatExprs(s.Exprs)
	case *ast.FuncCallStmt:
		s.Expr = meterConcat(s.Expr)
	case *ast.DoBlockStmt:
		meterConcatStmts(s.Stmts)
	case *ast.WhileStmt:
		s.Condition = meterConcat(s.Condition)
		meterConcatStmts(s.Stmts)
	case *ast.RepeatStmt:
		s.Condition = meterConcat(s.Condition)
		meterConcatStmts(s.Stmts)
	case *ast.IfStmt:
		s.Condition = meterConcat(s.Condition)
		meterConcatStmts(s.Then)
		meterConcatStmts(s.Else)
	case *ast.NumberForStmt:
		s.Init = meterConcat(s.Init)
		s.Limit = meterConcat(s.Limit)
		s.Step = meterConcat(s.Step)
		meterConcatStmts(s.Stmts)
	case *ast.GenericForStmt:
		meterConcatExprs(s.Exprs)
		meterConcatStmts(s.Stmts)
	case *ast.FuncDefStmt:
		meterConcatStmts(s.Func.Stmts)
	case *ast.ReturnStmt:
		meterConcatExprs(s.Exprs)
	}
}

func meterConcat(expr ast.Expr) ast.Expr {
	switch e := expr.(type) {
	case *ast.StringConcatOpExpr:
		call := &ast.FuncCallExpr{
			Func:      &ast.IdentExpr{Value: luaConcatGlobal},
			Args:      []ast.Expr{meterConcat(e.Lhs), meterConcat(e.Rhs)},
			AdjustRet: true,
		}
		call.SetLine(e.Line())
		call.SetLastLine(e.LastLine())
		call.Func.SetLine(e.Line())
		call.Func.SetLastLine(e.LastLine())
		return call
	case *ast.AttrGetExpr:
		e.Object = meterConcat(e.Object)
		e.Key = meterConcat(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			f.Key = meterConcat(f.Key)
			f.Value = meterConcat(f.Value)
		}
	case *ast.FuncCallExpr:
		e.Func = meterConcat(e.Func)
		e.Receiver = meterConcat(e.Receiver)
		meterConcatExprs(e.Args)
	case *ast.LogicalOpExpr:
		e.Lhs = meterConcat(e.Lhs)
		e.Rhs = meterConcat(e.Rhs)
	case *ast.RelationalOpExpr:
		e.Lhs = meterConcat(e.Lhs)
		e.Rhs = meterConcat(e.Rhs)
	case *ast.ArithmeticOpExpr:
		e.Lhs = meterConcat(e.Lhs)
		e.Rhs = meterConcat(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		e.Expr = meterConcat(e.Expr)
	case *ast.UnaryNotOpExpr:
		e.Expr = meterConcat(e.Expr)
	case *ast.UnaryLenOpExpr:
		e.Expr = meterConcat(e.Expr)
	case *ast.FunctionExpr:
		meterConcatStmts(e.Stmts)
	}
	return expr
}
