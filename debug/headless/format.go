package headless

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-delve/delve/service/api"
)

const maxFormatDepth = 3

// loadConfig is what Delve loads for every evaluated or listed variable.
var loadConfig = api.LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 1,
	MaxStringLen:       64,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}

// FormatValue renders a variable's value in the form Delve's DAP server
// uses: strings quoted, structs as "T {Field: value, ...}", pointers
// followed, slices and maps summarized by length.
func FormatValue(variable *api.Variable) string {
	return formatValue(variable, 0)
}

func formatValue(variable *api.Variable, depth int) string {
	if variable == nil {
		return "<nil>"
	}
	if variable.Unreadable != "" {
		return fmt.Sprintf("(unreadable %s)", variable.Unreadable)
	}
	if depth > maxFormatDepth {
		return fmt.Sprintf("%s {...}", variable.Type)
	}

	switch variable.Kind {
	case reflect.String:
		return strconv.Quote(variable.Value)
	case reflect.Slice, reflect.Array:
		if variable.Len == 0 {
			return "[]"
		}
		return fmt.Sprintf("%s (len=%d)", variable.Type, variable.Len)
	case reflect.Ptr:
		if len(variable.Children) == 0 {
			if variable.Type == "" {
				return "nil"
			}
			return fmt.Sprintf("(%s) nil", variable.Type)
		}
		return "*" + formatValue(&variable.Children[0], depth+1)
	case reflect.Struct:
		fields := make([]string, 0, len(variable.Children))
		for i := range variable.Children {
			child := &variable.Children[i]
			fields = append(fields, child.Name+": "+formatValue(child, depth+1))
		}
		return fmt.Sprintf("%s {%s}", variable.Type, strings.Join(fields, ", "))
	case reflect.Map:
		return fmt.Sprintf("%s (len=%d)", variable.Type, variable.Len)
	case reflect.Interface:
		if len(variable.Children) > 0 {
			return formatValue(&variable.Children[0], depth+1)
		}
		return fmt.Sprintf("(%s) nil", variable.Type)
	default:
		return variable.Value
	}
}
