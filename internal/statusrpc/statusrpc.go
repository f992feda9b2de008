// Package statusrpc defines the wire contract between gateway/backend
// nodes and the central status service. This package is deliberately
// thin: plain request/response structs plus a stdlib net/rpc client and
// server, not a full RPC framework.
package statusrpc

import (
	"net/rpc"

	"github.com/relaychat/relaychat/internal/statussvc"
)

// RegisterServerArgs is the RPC payload for RegisterServer.
type RegisterServerArgs struct {
	ID   uint32
	Addr string
	Load uint32
}

// ReportLoadArgs is the RPC payload for ReportServerLoad.
type ReportLoadArgs struct {
	ID   uint32
	Load uint32
}

// ReportLoadReply reports whether the backend id was known.
type ReportLoadReply struct {
	Found bool
}

// MinLoadReply answers CheckMinimalLoadServer.
type MinLoadReply struct {
	Found bool
	ID    uint32
	Addr  string
}

// DumpListReply answers DumpServerList.
type DumpListReply struct {
	Servers []statussvc.ServerSummary
}

// Service adapts statussvc.Service to net/rpc's method-on-receiver calling
// convention. Method names here ARE the RPC names clients dial.
type Service struct {
	impl *statussvc.Service
}

// NewService wraps a statussvc.Service for net/rpc registration.
func NewService(impl *statussvc.Service) *Service {
	return &Service{impl: impl}
}

func (s *Service) RegisterServer(args RegisterServerArgs, reply *struct{}) error {
	s.impl.RegisterServer(args.ID, args.Addr, args.Load)
	return nil
}

func (s *Service) ReportServerLoad(args ReportLoadArgs, reply *ReportLoadReply) error {
	reply.Found = s.impl.ReportServerLoad(args.ID, args.Load)
	return nil
}

func (s *Service) CheckMinimalLoadServer(args struct{}, reply *MinLoadReply) error {
	id, addr, found := s.impl.CheckMinimalLoadServer()
	reply.Found = found
	reply.ID = id
	reply.Addr = addr
	return nil
}

func (s *Service) DumpServerList(args struct{}, reply *DumpListReply) error {
	reply.Servers = s.impl.DumpServerList()
	return nil
}

// Client is a thin, typed wrapper over a net/rpc client dialed at the
// status service's address.
type Client struct {
	rpc *rpc.Client
}

// NewClient wraps an already-dialed net/rpc client.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

func (c *Client) RegisterServer(id uint32, addr string, load uint32) error {
	return c.rpc.Call("Service.RegisterServer", RegisterServerArgs{ID: id, Addr: addr, Load: load}, &struct{}{})
}

func (c *Client) ReportServerLoad(id uint32, load uint32) (found bool, err error) {
	var reply ReportLoadReply
	err = c.rpc.Call("Service.ReportServerLoad", ReportLoadArgs{ID: id, Load: load}, &reply)
	return reply.Found, err
}

func (c *Client) CheckMinimalLoadServer() (id uint32, addr string, found bool, err error) {
	var reply MinLoadReply
	err = c.rpc.Call("Service.CheckMinimalLoadServer", struct{}{}, &reply)
	return reply.ID, reply.Addr, reply.Found, err
}

func (c *Client) DumpServerList() ([]statussvc.ServerSummary, error) {
	var reply DumpListReply
	err := c.rpc.Call("Service.DumpServerList", struct{}{}, &reply)
	return reply.Servers, err
}
