package p2p

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/logger"
)

// DefaultMaxConnections bounds how many peer connections Server handles
// concurrently.
const DefaultMaxConnections = 32

// Server accepts peer connections and answers get_blockchain,
// new_transaction, and new_block requests against one shared Blockchain.
// Every request is dispatched through the blockchain's own mutexed
// methods, so Server itself holds no ledger state and needs no locking of
// its own — only the accept loop's worker count is bounded, via sem.
type Server struct {
	addr string
	bc   *chain.Blockchain
	sem  chan struct{}
	log  *logger.Logger

	ln net.Listener
}

// NewServer creates a Server bound to addr (not yet listening) that will
// serve requests against bc. maxConnections <= 0 uses DefaultMaxConnections.
func NewServer(addr string, bc *chain.Blockchain, maxConnections int) *Server {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	return &Server{
		addr: addr,
		bc:   bc,
		sem:  make(chan struct{}, maxConnections),
		log:  logger.NewComponentLogger("p2p"),
	}
}

// Listen binds the server's address. Call before Serve so callers can read
// back the bound address (useful when addr uses port 0).
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the address Listen bound to, or "" if Listen has not run.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener is closed, handing each one
// to its own goroutine gated by the semaphore. It blocks; callers typically
// run it in its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}

		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handle(NewConn(conn))
		}()
	}
}

// ListenAndServe is Listen followed by Serve, for callers that don't need
// the bound address back before serving starts.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting new connections. Connections already being handled
// run to completion.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// handle services one connection for as long as the peer keeps sending
// well-formed messages. A decode failure or disconnect drops the peer
// without affecting the chain, per the gossip error-handling rule: peer
// failures are logged and the peer dropped, never propagated as ledger
// corruption.
func (s *Server) handle(c *Conn) {
	defer c.Close()

	for {
		msg, err := c.Recv()
		if err != nil {
			return
		}
		if err := s.dispatch(c, msg); err != nil {
			s.log.Warn("peer %s: %v", c.RemoteAddr(), err)
		}
	}
}

func (s *Server) dispatch(c *Conn, msg Message) error {
	switch msg.Type {
	case MsgGetBlockchain:
		return s.sendBlockchain(c)

	case MsgNewTransaction:
		var tx block.Transaction
		if err := json.Unmarshal(msg.Data, &tx); err != nil {
			return fmt.Errorf("decoding new_transaction: %w", err)
		}
		if err := s.bc.AddTransaction(&tx); err != nil {
			return fmt.Errorf("rejecting gossiped transaction: %w", err)
		}
		return nil

	case MsgNewBlock:
		return s.requestAndReplace(c)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Server) sendBlockchain(c *Conn) error {
	chainJSON, err := json.Marshal(s.bc.Blocks())
	if err != nil {
		return fmt.Errorf("encoding blockchain: %w", err)
	}
	return c.Send(Message{Type: MsgBlockchain, Data: chainJSON})
}

// requestAndReplace asks the peer that announced a new block for its full
// chain over the same connection, then applies the longest-valid-chain
// rule. A shorter or invalid reply leaves the local chain untouched.
func (s *Server) requestAndReplace(c *Conn) error {
	if err := c.Send(Message{Type: MsgGetBlockchain}); err != nil {
		return err
	}
	reply, err := c.Recv()
	if err != nil {
		return fmt.Errorf("reading blockchain reply: %w", err)
	}
	if reply.Type != MsgBlockchain {
		return fmt.Errorf("expected blockchain reply, got %q", reply.Type)
	}

	var blocks []*block.Block
	if err := json.Unmarshal(reply.Data, &blocks); err != nil {
		return fmt.Errorf("decoding blockchain reply: %w", err)
	}
	return s.bc.ReplaceChain(blocks)
}
