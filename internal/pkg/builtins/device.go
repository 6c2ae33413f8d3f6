package builtins

import (
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/types"
	"github.com/unbasical/devgate/pkg/request"
)

// tango_device("sys/tg_test/1") == {"domain": "sys", "family": "tg_test", "member": "1"}
// It is undefined for names which are no domain/family/member triple.
//
//nolint:gochecknoglobals
var tangoDeviceDecl = &rego.Function{
	Name: "tango_device",
	Decl: types.NewFunction(
		types.Args(types.S),
		types.NewObject([]*types.StaticProperty{
			types.NewStaticProperty("domain", types.S),
			types.NewStaticProperty("family", types.S),
			types.NewStaticProperty("member", types.S),
		}, nil),
	),
}

func tangoDevice(_ rego.BuiltinContext, operand *ast.Term) (*ast.Term, error) {
	name, ok := operand.Value.(ast.String)
	if !ok {
		return nil, nil
	}
	device, err := request.ParseDeviceIdentifier(string(name))
	if err != nil || !device.Valid() {
		return nil, nil
	}
	return ast.ObjectTerm(
		ast.Item(ast.StringTerm("domain"), ast.StringTerm(device.Domain)),
		ast.Item(ast.StringTerm("family"), ast.StringTerm(device.Family)),
		ast.Item(ast.StringTerm("member"), ast.StringTerm(device.Member)),
	), nil
}
