package builtins

import (
	"context"
	"testing"

	"github.com/open-policy-agent/opa/rego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModule = `package test

device := tango_device(input.device)

logged {
	log_info("checking")
	log_debug({"device": input.device})
}
`

func eval(t *testing.T, query, device string) rego.ResultSet {
	t.Helper()
	Register()

	rs, err := rego.New(
		rego.Query(query),
		rego.Module("test.rego", testModule),
		rego.Input(map[string]interface{}{"device": device}),
	).Eval(context.Background())
	require.NoError(t, err)
	return rs
}

func TestTangoDevice(t *testing.T) {
	rs := eval(t, "data.test.device", "sys/tg_test/1")

	require.Len(t, rs, 1)
	assert.Equal(t, map[string]interface{}{
		"domain": "sys",
		"family": "tg_test",
		"member": "1",
	}, rs[0].Expressions[0].Value)
}

func TestTangoDeviceUndefinedForInvalidNames(t *testing.T) {
	for _, device := range []string{"sys/tg_test", "a/b/c/d", "a//c"} {
		t.Run(device, func(t *testing.T) {
			assert.Empty(t, eval(t, "data.test.device", device))
		})
	}
}

func TestLogFunctionsEvaluateToTrue(t *testing.T) {
	rs := eval(t, "data.test.logged", "sys/tg_test/1")

	require.Len(t, rs, 1)
	assert.Equal(t, true, rs[0].Expressions[0].Value)
}

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}
