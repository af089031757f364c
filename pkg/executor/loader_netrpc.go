package executor

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	hclog "github.com/hashicorp/go-hclog"
	plugin "github.com/hashicorp/go-plugin"
)

// handshakeConfig is the shared cookie both host and child process
// check before trusting the connection; it is not a security boundary,
// only a footgun guard against launching the wrong binary.
var handshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ENGINE_EXECUTOR_PLUGIN",
	MagicCookieValue: "knowledge-frame",
}

// rpcExecutorName is the net/rpc service name every executor plugin
// binary registers itself under.
const rpcExecutorName = "executor"

// RPCExecutor is the net/rpc interface an out-of-process executor
// plugin implements, dispensed by the go-plugin client.
type RPCExecutor interface {
	ExecuteAgent(args ExecuteArgs, reply *ExecuteReply) error
	ExecuteTool(args ExecuteArgs, reply *ExecuteReply) error
}

// ExecuteArgs is the net/rpc wire request for ExecuteAgent/ExecuteTool.
type ExecuteArgs struct {
	Target string
	Input  map[string]any
}

// ExecuteReply is the net/rpc wire response.
type ExecuteReply struct {
	Output     map[string]any
	TokensUsed int64
	CostUSD    float64
	Artifacts  []string
	Err        string
}

// executorPlugin adapts RPCExecutor to go-plugin's Plugin interface.
type executorPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl RPCExecutor
}

func (p *executorPlugin) Server(*plugin.MuxBroker) (any, error) {
	return p.Impl, nil
}

func (p *executorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcExecutorClient{client: c}, nil
}

type rpcExecutorClient struct{ client *rpc.Client }

func (c *rpcExecutorClient) ExecuteAgent(args ExecuteArgs, reply *ExecuteReply) error {
	return c.client.Call("Plugin.ExecuteAgent", args, reply)
}

func (c *rpcExecutorClient) ExecuteTool(args ExecuteArgs, reply *ExecuteReply) error {
	return c.client.Call("Plugin.ExecuteTool", args, reply)
}

// ServeExecutorPlugin is the entry point an out-of-process executor
// binary's main() calls to start serving.
func ServeExecutorPlugin(impl RPCExecutor) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]plugin.Plugin{
			rpcExecutorName: &executorPlugin{Impl: impl},
		},
	})
}

// NetRPCLoader launches an executor binary out-of-process over
// hashicorp/go-plugin's net/rpc transport (no protoc codegen, unlike
// the gRPC transport it replaces).
type NetRPCLoader struct {
	logger hclog.Logger
}

// NewNetRPCLoader constructs a NetRPCLoader.
func NewNetRPCLoader() *NetRPCLoader {
	return &NetRPCLoader{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "engine-executor",
			Level: hclog.Warn,
		}),
	}
}

func (l *NetRPCLoader) Kind() Kind { return KindNetRPC }

func (l *NetRPCLoader) Load(ctx context.Context, m Manifest) (Executor, error) {
	if m.Path == "" {
		return nil, fmt.Errorf("executor: netrpc manifest %s has no binary path", m.Name)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  handshakeConfig,
		Plugins:          map[string]plugin.Plugin{rpcExecutorName: &executorPlugin{}},
		Cmd:              exec.Command(m.Path),
		Logger:           l.logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("executor: attach to %s: %w", m.Name, err)
	}

	raw, err := rpcClient.Dispense(rpcExecutorName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("executor: dispense %s: %w", m.Name, err)
	}

	rpcExec, ok := raw.(RPCExecutor)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("executor: %s did not implement RPCExecutor", m.Name)
	}

	return &netRPCExecutor{client: client, exec: rpcExec}, nil
}

type netRPCExecutor struct {
	client *plugin.Client
	exec   RPCExecutor
}

// checkpoint is accepted for interface symmetry; wiring it over the
// wire needs a second MuxBroker connection back to this process and
// isn't implemented for the net/rpc transport.
func (e *netRPCExecutor) ExecuteAgent(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	return e.call(e.exec.ExecuteAgent, target, input)
}

func (e *netRPCExecutor) ExecuteTool(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	return e.call(e.exec.ExecuteTool, target, input)
}

func (e *netRPCExecutor) call(fn func(ExecuteArgs, *ExecuteReply) error, target Target, input map[string]any) (Result, error) {
	var reply ExecuteReply
	if err := fn(ExecuteArgs{Target: target.String(), Input: input}, &reply); err != nil {
		return Result{}, fmt.Errorf("executor: rpc call to %s: %w", target, err)
	}
	if reply.Err != "" {
		return Result{}, fmt.Errorf("executor: %s: %s", target, reply.Err)
	}
	return Result{
		Output:     reply.Output,
		TokensUsed: reply.TokensUsed,
		CostUSD:    reply.CostUSD,
		Artifacts:  reply.Artifacts,
	}, nil
}

func (e *netRPCExecutor) Close() error {
	e.client.Kill()
	return nil
}
