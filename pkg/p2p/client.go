package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/chain"
)

// BroadcastTransaction sends tx as a new_transaction message to every
// address in peers. An unreachable peer is skipped rather than aborting
// the whole broadcast, matching the gossip error-handling rule: peer
// failures are dropped, never fatal to the caller.
func BroadcastTransaction(peers []string, tx *block.Transaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		return
	}
	broadcast(peers, Message{Type: MsgNewTransaction, Data: data})
}

// BroadcastNewBlock tells every peer a new block exists, prompting each to
// pull the full chain and apply the longest-valid-chain rule.
func BroadcastNewBlock(peers []string) {
	broadcast(peers, Message{Type: MsgNewBlock})
}

func broadcast(peers []string, msg Message) {
	for _, addr := range peers {
		c, err := Dial(addr)
		if err != nil {
			continue
		}
		_ = c.Send(msg)
		c.Close()
	}
}

// FetchChain requests the full blockchain from addr and decodes it.
func FetchChain(addr string) ([]*block.Block, error) {
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Send(Message{Type: MsgGetBlockchain}); err != nil {
		return nil, fmt.Errorf("requesting chain from %s: %w", addr, err)
	}
	reply, err := c.Recv()
	if err != nil {
		return nil, fmt.Errorf("reading chain from %s: %w", addr, err)
	}
	if reply.Type != MsgBlockchain {
		return nil, fmt.Errorf("unexpected reply type %q from %s", reply.Type, addr)
	}

	var blocks []*block.Block
	if err := json.Unmarshal(reply.Data, &blocks); err != nil {
		return nil, fmt.Errorf("decoding chain from %s: %w", addr, err)
	}
	return blocks, nil
}

// SyncWithPeer fetches addr's chain and applies the longest-valid-chain
// rule to bc. A peer chain that is not strictly longer, or fails
// validation, leaves bc untouched — that is the expected common case, not
// a failure of the sync attempt, so it is not reported as an error.
func SyncWithPeer(bc *chain.Blockchain, addr string) error {
	blocks, err := FetchChain(addr)
	if err != nil {
		return err
	}
	_ = bc.ReplaceChain(blocks)
	return nil
}
