package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const nodeRegistryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "nodeType", "type": "uint8"},
      {"indexed": false, "internalType": "uint8", "name": "tier", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "price", "type": "uint256"}
    ],
    "name": "NodeMinted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "nodeType", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "stakedAmount", "type": "uint256"}
    ],
    "name": "NodeRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": false, "internalType": "uint8", "name": "oldStatus", "type": "uint8"},
      {"indexed": false, "internalType": "uint8", "name": "newStatus", "type": "uint8"}
    ],
    "name": "NodeStatusChanged",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "NodeSlashed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "leaseId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "lessee", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "monthlyFee", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "duration", "type": "uint256"}
    ],
    "name": "NodeLeaseCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "leaseId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "payer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "LeaseFeePayment",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "leaseId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "totalAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "lesseeShare", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "operatorShare", "type": "uint256"}
    ],
    "name": "RevenueDistributed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "uptimeSeconds", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "downtimeSeconds", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "PerformanceRecorded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "WithdrawalProcessed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "nodeId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "NodeActivated",
    "type": "event"
  }
]`

var (
	nodeRegistryABI     abi.ABI
	nodeRegistryABIOnce sync.Once
	nodeRegistryABIErr  error
)

// NodeRegistryABI returns the parsed node registry event ABI.
func NodeRegistryABI() (abi.ABI, error) {
	nodeRegistryABIOnce.Do(func() {
		nodeRegistryABI, nodeRegistryABIErr = abi.JSON(strings.NewReader(nodeRegistryABIJSON))
	})
	return nodeRegistryABI, nodeRegistryABIErr
}
