package consensus

import (
	"testing"
	"time"

	"github.com/gochain/gochain/pkg/block"
	"github.com/stretchr/testify/assert"
)

func TestProofOfStakeName(t *testing.T) {
	pos := NewProofOfStake(nil)
	assert.Equal(t, "proof-of-stake", pos.Name())
}

func TestProofOfStakeRegisterStake(t *testing.T) {
	pos := NewProofOfStake(&PoSConfig{MinStake: 10})

	assert.NoError(t, pos.RegisterStake("alice", 100))
	assert.Equal(t, uint64(100), pos.Stake("alice"))
	assert.Equal(t, 1, pos.ValidatorCount())

	err := pos.RegisterStake("bob", 1)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), pos.Stake("bob"))
	assert.Equal(t, 1, pos.ValidatorCount())
}

func TestProofOfStakeRegisterBelowMinimumRemoves(t *testing.T) {
	pos := NewProofOfStake(&PoSConfig{MinStake: 10})
	assert.NoError(t, pos.RegisterStake("alice", 50))
	assert.Error(t, pos.RegisterStake("alice", 5))
	assert.Equal(t, uint64(0), pos.Stake("alice"))
}

func TestProofOfStakeValidateBlock(t *testing.T) {
	pos := NewProofOfStake(&PoSConfig{MinStake: 10})
	assert.NoError(t, pos.RegisterStake("alice", 100))

	b := block.NewBlock(nil, 1, 0)
	assert.True(t, pos.ValidateBlock(b, "alice"))
	assert.False(t, pos.ValidateBlock(b, "bob"))
	assert.False(t, pos.ValidateBlock(nil, "alice"))
}

func TestProofOfStakeGetNextValidatorWeighted(t *testing.T) {
	pos := NewProofOfStake(&PoSConfig{MinStake: 1})
	assert.NoError(t, pos.RegisterStake("alice", 100))
	assert.NoError(t, pos.RegisterStake("bob", 1))

	validator, err := pos.GetNextValidator("seed", time.Unix(1000, 0))
	assert.NoError(t, err)
	assert.Contains(t, []string{"alice", "bob"}, validator)
}

func TestProofOfStakeGetNextValidatorNoneRegistered(t *testing.T) {
	pos := NewProofOfStake(nil)
	_, err := pos.GetNextValidator("seed", time.Unix(1000, 0))
	assert.Error(t, err)
}

func TestProofOfStakeGetNextValidatorDeterministic(t *testing.T) {
	pos := NewProofOfStake(&PoSConfig{MinStake: 1})
	assert.NoError(t, pos.RegisterStake("alice", 100))

	now := time.Unix(42, 0)
	first, err := pos.GetNextValidator("seed", now)
	assert.NoError(t, err)
	second, err := pos.GetNextValidator("seed", now)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}
