// Package rpc provides Unix socket IPC between a running bootstrap agent and
// the status and stop commands.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// AgentStatus is the state reported by a running agent.
type AgentStatus struct {
	LauncherID  string
	RuntimeDir  string
	Source      string
	Digest      string
	InstalledAt time.Time
	Running     bool
	PID         int
	Launches    int
	LastExit    *int
}

// Controller is implemented by the agent behind the socket.
type Controller interface {
	Status() AgentStatus
	// RequestStop asks the agent to shut down and must not block.
	RequestStop()
}

// Service is the RPC service exposed by the agent.
type Service struct {
	ctl Controller
	log zerolog.Logger
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	Status AgentStatus
}

// StopArgs is the request for Stop.
type StopArgs struct{}

// StopReply is the response for Stop.
type StopReply struct {
	Accepted bool
}

// Status returns the agent status.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.Status = s.ctl.Status()
	return nil
}

// Stop asks the agent to shut down.
func (s *Service) Stop(args *StopArgs, reply *StopReply) error {
	s.log.Info().Msg("Stop requested over control socket")
	s.ctl.RequestStop()
	reply.Accepted = true
	return nil
}

// Server is a running control socket.
type Server struct {
	listener net.Listener
	path     string
}

// StartServer starts the Unix socket RPC server.
func StartServer(socketPath string, ctl Controller, log zerolog.Logger) (*Server, error) {
	service := &Service{ctl: ctl, log: log}

	server := netrpc.NewServer()
	if err := server.RegisterName("Agent", service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove a stale socket left by a previous agent.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("Control socket started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{listener: listener, path: socketPath}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// Client is a client for the agent control socket.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the agent status.
func (c *Client) Status() (AgentStatus, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Agent.Status", &StatusArgs{}, reply); err != nil {
		return AgentStatus{}, err
	}
	return reply.Status, nil
}

// Stop asks the agent to shut down.
func (c *Client) Stop() error {
	return c.client.Call("Agent.Stop", &StopArgs{}, &StopReply{})
}
