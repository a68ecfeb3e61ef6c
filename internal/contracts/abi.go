package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const challengeFlipABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "challengeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "xpAmount", "type": "uint256"}
    ],
    "name": "ChallengeCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "challengeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "xpAmount", "type": "uint256"}
    ],
    "name": "EnteredChallenge",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "challengeId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "player1", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "player2", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "wager", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "result", "type": "bool"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "time", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "reward", "type": "uint256"}
    ],
    "name": "WinnerDrawn",
    "type": "event"
  }
]`

const prizePoolABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "baseToken", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "limitAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "ticketPrice", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "poolType", "type": "bool"}
    ],
    "name": "PoolCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "xpAmount", "type": "uint256"}
    ],
    "name": "EnteredPool",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "reward", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "poolType", "type": "bool"}
    ],
    "name": "WinnerDrawn",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "PayoutClaimed",
    "type": "event"
  }
]`

// Earlier pool deployments emit WinnerDrawn without the pool type.
const prizePoolLegacyABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "poolId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "reward", "type": "uint256"}
    ],
    "name": "WinnerDrawn",
    "type": "event"
  }
]`

var (
	challengeFlipABI     abi.ABI
	challengeFlipABIOnce sync.Once
	challengeFlipABIErr  error

	prizePoolABI     abi.ABI
	prizePoolABIOnce sync.Once
	prizePoolABIErr  error

	prizePoolLegacyABI     abi.ABI
	prizePoolLegacyABIOnce sync.Once
	prizePoolLegacyABIErr  error
)

// ChallengeFlipABI returns the parsed duel contract ABI.
func ChallengeFlipABI() (abi.ABI, error) {
	challengeFlipABIOnce.Do(func() {
		challengeFlipABI, challengeFlipABIErr = abi.JSON(strings.NewReader(challengeFlipABIJSON))
	})
	return challengeFlipABI, challengeFlipABIErr
}

// PrizePoolABI returns the parsed prize pool contract ABI.
func PrizePoolABI() (abi.ABI, error) {
	prizePoolABIOnce.Do(func() {
		prizePoolABI, prizePoolABIErr = abi.JSON(strings.NewReader(prizePoolABIJSON))
	})
	return prizePoolABI, prizePoolABIErr
}

// PrizePoolLegacyABI returns the ABI holding the three-field WinnerDrawn event.
func PrizePoolLegacyABI() (abi.ABI, error) {
	prizePoolLegacyABIOnce.Do(func() {
		prizePoolLegacyABI, prizePoolLegacyABIErr = abi.JSON(strings.NewReader(prizePoolLegacyABIJSON))
	})
	return prizePoolLegacyABI, prizePoolLegacyABIErr
}
