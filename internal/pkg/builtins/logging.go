package builtins

import (
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/types"
	log "github.com/sirupsen/logrus"
	"github.com/unbasical/devgate/pkg/constants/logging"
)

// logDecl declares a function taking one value of any type. It always evaluates to true so it can be
// used as a statement inside rule bodies.
func logDecl(name string) *rego.Function {
	return &rego.Function{
		Name: name,
		Decl: types.NewFunction(types.Args(types.A), types.B),
	}
}

func makeBuiltinLogFuncForLevel(level log.Level) rego.Builtin1 {
	return func(_ rego.BuiltinContext, operand *ast.Term) (*ast.Term, error) {
		if log.IsLevelEnabled(level) {
			logging.LogForComponent("policy").Log(level, termToString(operand))
		}
		return ast.BooleanTerm(true), nil
	}
}

func termToString(term *ast.Term) string {
	if s, ok := term.Value.(ast.String); ok {
		return string(s)
	}
	return term.Value.String()
}
