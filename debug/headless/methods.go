package headless

type RPCMethod string

// Delve JSON-RPC methods, see
// https://pkg.go.dev/github.com/go-delve/delve/service/rpc2
const (
	RPCCommand          RPCMethod = "RPCServer.Command"
	RPCState            RPCMethod = "RPCServer.State"
	RPCCreateBreakpoint RPCMethod = "RPCServer.CreateBreakpoint"
	RPCEval             RPCMethod = "RPCServer.Eval"
	RPCStacktrace       RPCMethod = "RPCServer.Stacktrace"
	RPCDetach           RPCMethod = "RPCServer.Detach"
	RPCListLocalVars    RPCMethod = "RPCServer.ListLocalVars"
	RPCListFunctionArgs RPCMethod = "RPCServer.ListFunctionArgs"
)
