package headless

import (
	"reflect"
	"testing"

	"github.com/go-delve/delve/service/api"
	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	result := api.Variable{
		Name: "res",
		Type: "github.com/xhd2015/dlv-fixture/fixture/simple.CalculationResult",
		Kind: reflect.Struct,
		Children: []api.Variable{
			{Name: "Sum", Type: "int", Kind: reflect.Int, Value: "11"},
			{Name: "Product", Type: "int", Kind: reflect.Int, Value: "28"},
		},
	}

	tests := []struct {
		name string
		v    *api.Variable
		want string
	}{
		{"nil", nil, "<nil>"},
		{"int", &api.Variable{Type: "int", Kind: reflect.Int, Value: "8"}, "8"},
		{"string", &api.Variable{Type: "string", Kind: reflect.String, Value: "hello, world!"}, `"hello, world!"`},
		{"struct", &result, "github.com/xhd2015/dlv-fixture/fixture/simple.CalculationResult {Sum: 11, Product: 28}"},
		{"pointer", &api.Variable{Type: "*simple.CalculationResult", Kind: reflect.Ptr, Children: []api.Variable{result}},
			"*github.com/xhd2015/dlv-fixture/fixture/simple.CalculationResult {Sum: 11, Product: 28}"},
		{"nil pointer", &api.Variable{Type: "*int", Kind: reflect.Ptr}, "(*int) nil"},
		{"empty slice", &api.Variable{Type: "[]int", Kind: reflect.Slice}, "[]"},
		{"slice", &api.Variable{Type: "[]int", Kind: reflect.Slice, Len: 3}, "[]int (len=3)"},
		{"map", &api.Variable{Type: "map[string]int", Kind: reflect.Map, Len: 2}, "map[string]int (len=2)"},
		{"interface", &api.Variable{Type: "error", Kind: reflect.Interface}, "(error) nil"},
		{"unreadable", &api.Variable{Type: "int", Kind: reflect.Int, Unreadable: "optimized out"}, "(unreadable optimized out)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.v))
		})
	}
}

func TestFormatValueDepth(t *testing.T) {
	v := api.Variable{Type: "T", Kind: reflect.Struct}
	for i := 0; i < 6; i++ {
		v = api.Variable{Type: "T", Kind: reflect.Struct, Children: []api.Variable{withName(v, "Next")}}
	}
	assert.Equal(t, "T {Next: T {Next: T {Next: T {Next: T {...}}}}}", FormatValue(&v))
}

func withName(v api.Variable, name string) api.Variable {
	v.Name = name
	return v
}
