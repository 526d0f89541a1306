package consensus

import (
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/stretchr/testify/assert"
)

func TestDelegatedProofOfStakeName(t *testing.T) {
	d := NewDelegatedProofOfStake(nil)
	assert.Equal(t, "delegated-proof-of-stake", d.Name())
}

func TestDelegatedProofOfStakeRotationByWeight(t *testing.T) {
	d := NewDelegatedProofOfStake(&DPoSConfig{DelegateCount: 2})
	d.Vote("voter1", "alice", 100)
	d.Vote("voter2", "bob", 50)
	d.Vote("voter3", "carol", 10)

	first, ok := d.GetNextDelegate()
	assert.True(t, ok)
	assert.Equal(t, "alice", first)

	second, ok := d.GetNextDelegate()
	assert.True(t, ok)
	assert.Equal(t, "bob", second)

	// carol never makes the top-2 rotation and is never selected, nor does
	// it validate.
	b := block.NewBlock(nil, 1, 0)
	assert.False(t, d.ValidateBlock(b, "carol"))
	assert.True(t, d.ValidateBlock(b, "alice"))
}

func TestDelegatedProofOfStakeVotesAccumulateWithoutDedup(t *testing.T) {
	d := NewDelegatedProofOfStake(&DPoSConfig{DelegateCount: 1})
	d.Vote("voter1", "alice", 10)
	d.Vote("voter1", "alice", 10)

	b := block.NewBlock(nil, 1, 0)
	assert.True(t, d.ValidateBlock(b, "alice"))
}

func TestDelegatedProofOfStakeValidateBlockNilBlock(t *testing.T) {
	d := NewDelegatedProofOfStake(nil)
	assert.False(t, d.ValidateBlock(nil, "alice"))
}

func TestDelegatedProofOfStakeGetNextDelegateEmpty(t *testing.T) {
	d := NewDelegatedProofOfStake(nil)
	_, ok := d.GetNextDelegate()
	assert.False(t, ok)
}
