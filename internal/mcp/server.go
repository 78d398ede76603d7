package mcp

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/model"
)

// Backend answers the read-only queries the tools expose. *client.Client
// implements it.
type Backend interface {
	Check(ctx context.Context, account common.Address, call model.Call, at uint64) (*pb.CheckResponse, error)
	Allowance(ctx context.Context, account, target common.Address, selector model.Selector, op model.Operation) (*pb.AllowanceResponse, error)
	TokenAllowance(ctx context.Context, account, token, recipient common.Address) (*pb.TokenAllowanceResponse, error)
	Cosigner(ctx context.Context, account common.Address) (*pb.CosignerResponse, error)
	Removal(ctx context.Context, account common.Address) (*pb.RemovalResponse, error)
	ListTransactions(ctx context.Context, account common.Address) ([]pb.Transaction, error)
	Status(ctx context.Context, account common.Address) (*pb.StatusResponse, error)
}

// Config holds MCP server configuration.
type Config struct {
	Backend Backend
	// Limits bound the local batch decoder. Zero uses defaults.
	Limits  calldata.Limits
	Version string
}

// Server exposes delayguard state to MCP clients. Every tool is read-only;
// configuration stays with the account owners.
type Server struct {
	mcpServer *mcpsdk.Server
	backend   Backend
	limits    calldata.Limits
}

// New creates an MCP server with all tools registered.
func New(cfg Config) *Server {
	if cfg.Limits == (calldata.Limits{}) {
		cfg.Limits = calldata.DefaultLimits()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{backend: cfg.Backend, limits: cfg.Limits}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "delayguard",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all delayguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_check",
		Description: "Check whether a call would currently be allowed for an account (dry-run, never changes state). Denials include the reason and the failing sub-call depth.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_allowance",
		Description: "Look up the allowlist entry for a (target, selector, operation) and when it becomes active.",
	}, s.handleAllowance)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_token_allowance",
		Description: "Look up the ERC-20 transfer ceiling configured for a (token, recipient).",
	}, s.handleTokenAllowance)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_cosigner",
		Description: "Look up the cosigner registered for an account.",
	}, s.handleCosigner)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_removal",
		Description: "Look up the pending guard removal schedule of an account.",
	}, s.handleRemoval)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_list_txs",
		Description: "List every allowlisted call shape configured for an account.",
	}, s.handleListTxs)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_status",
		Description: "Show whether the engine is installed as the account's guards, with nonce and activation delay.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "delayguard_decode",
		Description: "Decode a call payload, expanding nested multiSend batches into a tree of calls.",
	}, s.handleDecode)
}
