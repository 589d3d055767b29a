package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"nodeIndexer/internal/model"
)

// ErrUnrecognized is returned for logs whose topic0 is not a known event.
var ErrUnrecognized = errors.New("unrecognized event")

// eventKinds maps ABI event names to kinds. The contract emits
// NodeLeaseCreated, stored as LeaseCreated.
var eventKinds = map[string]model.EventKind{
	"NodeMinted":          model.KindNodeMinted,
	"NodeRegistered":      model.KindNodeRegistered,
	"NodeStatusChanged":   model.KindNodeStatusChanged,
	"NodeSlashed":         model.KindNodeSlashed,
	"NodeLeaseCreated":    model.KindLeaseCreated,
	"LeaseFeePayment":     model.KindLeaseFeePayment,
	"RevenueDistributed":  model.KindRevenueDistributed,
	"PerformanceRecorded": model.KindPerformanceRecorded,
	"WithdrawalProcessed": model.KindWithdrawalProcessed,
	"NodeActivated":       model.KindNodeActivated,
}

// Decoder turns node registry logs into typed events. It is stateless after
// construction and safe for concurrent use.
type Decoder struct {
	byTopic map[common.Hash]abi.Event
}

// NewDecoder builds a decoder over the embedded registry ABI.
func NewDecoder() (*Decoder, error) {
	registryABI, err := NodeRegistryABI()
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	byTopic := make(map[common.Hash]abi.Event, len(eventKinds))
	for name := range eventKinds {
		event, ok := registryABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("abi missing event %s", name)
		}
		byTopic[event.ID] = event
	}

	return &Decoder{byTopic: byTopic}, nil
}

// Topics returns the topic0 set used to filter subscriptions and range queries.
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.byTopic))
	for _, kind := range model.AllKinds {
		for id, event := range d.byTopic {
			if eventKinds[event.Name] == kind {
				topics = append(topics, id)
			}
		}
	}
	return topics
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	hash, err := parseHash(topic0)
	if err != nil {
		return false
	}
	_, ok := d.byTopic[hash]
	return ok
}

// Decode converts a LogRecord into a typed event. Unknown signatures return
// ErrUnrecognized; malformed topics or data return a descriptive error.
func (d *Decoder) Decode(record model.LogRecord) (event model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			event = nil
			err = fmt.Errorf("decode panic: %v", r)
		}
	}()

	if len(record.Topics) == 0 {
		return nil, fmt.Errorf("%w: missing topics", ErrUnrecognized)
	}
	topic0, err := parseHash(record.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	abiEvent, ok := d.byTopic[topic0]
	if !ok {
		return nil, fmt.Errorf("%w: topic0 %s", ErrUnrecognized, record.Topics[0])
	}

	args, err := unpackArgs(abiEvent, record)
	if err != nil {
		return nil, err
	}

	meta := record.Meta()
	meta.Contract = normalizeAddress(record.Address)

	switch eventKinds[abiEvent.Name] {
	case model.KindNodeMinted:
		return decodeNodeMinted(meta, args)
	case model.KindNodeRegistered:
		return decodeNodeRegistered(meta, args)
	case model.KindNodeStatusChanged:
		return decodeNodeStatusChanged(meta, args)
	case model.KindNodeSlashed:
		return decodeNodeSlashed(meta, args)
	case model.KindLeaseCreated:
		return decodeLeaseCreated(meta, args)
	case model.KindLeaseFeePayment:
		return decodeLeaseFeePayment(meta, args)
	case model.KindRevenueDistributed:
		return decodeRevenueDistributed(meta, args)
	case model.KindPerformanceRecorded:
		return decodePerformanceRecorded(meta, args)
	case model.KindWithdrawalProcessed:
		return decodeWithdrawalProcessed(meta, args)
	case model.KindNodeActivated:
		return decodeNodeActivated(meta, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecognized, abiEvent.Name)
	}
}

func decodeNodeMinted(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	operator, err := args.addressArg("operator")
	if err != nil {
		return nil, err
	}
	nodeType, err := args.uint8Arg("nodeType")
	if err != nil {
		return nil, err
	}
	tier, err := args.uint8Arg("tier")
	if err != nil {
		return nil, err
	}
	price, err := args.amountArg("price")
	if err != nil {
		return nil, err
	}
	return model.NodeMinted{
		LogMeta:  meta,
		NodeID:   nodeID,
		Operator: operator,
		NodeType: nodeType,
		Tier:     tier,
		Price:    price,
	}, nil
}

func decodeNodeRegistered(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	operator, err := args.addressArg("operator")
	if err != nil {
		return nil, err
	}
	nodeType, err := args.uint8Arg("nodeType")
	if err != nil {
		return nil, err
	}
	staked, err := args.amountArg("stakedAmount")
	if err != nil {
		return nil, err
	}
	return model.NodeRegistered{
		LogMeta:      meta,
		NodeID:       nodeID,
		Operator:     operator,
		NodeType:     nodeType,
		StakedAmount: staked,
	}, nil
}

func decodeNodeStatusChanged(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	oldStatus, err := args.uint8Arg("oldStatus")
	if err != nil {
		return nil, err
	}
	newStatus, err := args.uint8Arg("newStatus")
	if err != nil {
		return nil, err
	}
	return model.NodeStatusChanged{
		LogMeta:   meta,
		NodeID:    nodeID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}, nil
}

func decodeNodeSlashed(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	amount, err := args.amountArg("amount")
	if err != nil {
		return nil, err
	}
	reason, err := args.stringArg("reason")
	if err != nil {
		return nil, err
	}
	return model.NodeSlashed{LogMeta: meta, NodeID: nodeID, Amount: amount, Reason: reason}, nil
}

func decodeLeaseCreated(meta model.LogMeta, args eventArgs) (model.Event, error) {
	leaseID, err := args.idArg("leaseId")
	if err != nil {
		return nil, err
	}
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	lessee, err := args.addressArg("lessee")
	if err != nil {
		return nil, err
	}
	fee, err := args.amountArg("monthlyFee")
	if err != nil {
		return nil, err
	}
	duration, err := args.amountArg("duration")
	if err != nil {
		return nil, err
	}
	return model.LeaseCreated{
		LogMeta:    meta,
		LeaseID:    leaseID,
		NodeID:     nodeID,
		Lessee:     lessee,
		MonthlyFee: fee,
		Duration:   duration,
	}, nil
}

func decodeLeaseFeePayment(meta model.LogMeta, args eventArgs) (model.Event, error) {
	leaseID, err := args.idArg("leaseId")
	if err != nil {
		return nil, err
	}
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	payer, err := args.addressArg("payer")
	if err != nil {
		return nil, err
	}
	amount, err := args.amountArg("amount")
	if err != nil {
		return nil, err
	}
	return model.LeaseFeePayment{LogMeta: meta, LeaseID: leaseID, NodeID: nodeID, Payer: payer, Amount: amount}, nil
}

func decodeRevenueDistributed(meta model.LogMeta, args eventArgs) (model.Event, error) {
	leaseID, err := args.idArg("leaseId")
	if err != nil {
		return nil, err
	}
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	total, err := args.amountArg("totalAmount")
	if err != nil {
		return nil, err
	}
	lessee, err := args.amountArg("lesseeShare")
	if err != nil {
		return nil, err
	}
	operator, err := args.amountArg("operatorShare")
	if err != nil {
		return nil, err
	}
	return model.RevenueDistributed{
		LogMeta:       meta,
		LeaseID:       leaseID,
		NodeID:        nodeID,
		TotalAmount:   total,
		LesseeShare:   lessee,
		OperatorShare: operator,
	}, nil
}

func decodePerformanceRecorded(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	uptime, err := args.uint64Arg("uptimeSeconds")
	if err != nil {
		return nil, err
	}
	downtime, err := args.uint64Arg("downtimeSeconds")
	if err != nil {
		return nil, err
	}
	ts, err := args.uint64Arg("timestamp")
	if err != nil {
		return nil, err
	}
	return model.PerformanceRecorded{
		LogMeta:         meta,
		NodeID:          nodeID,
		UptimeSeconds:   uptime,
		DowntimeSeconds: downtime,
		Timestamp:       ts,
	}, nil
}

func decodeWithdrawalProcessed(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	recipient, err := args.addressArg("recipient")
	if err != nil {
		return nil, err
	}
	amount, err := args.amountArg("amount")
	if err != nil {
		return nil, err
	}
	return model.WithdrawalProcessed{LogMeta: meta, NodeID: nodeID, Recipient: recipient, Amount: amount}, nil
}

func decodeNodeActivated(meta model.LogMeta, args eventArgs) (model.Event, error) {
	nodeID, err := args.idArg("nodeId")
	if err != nil {
		return nil, err
	}
	operator, err := args.addressArg("operator")
	if err != nil {
		return nil, err
	}
	ts, err := args.uint64Arg("timestamp")
	if err != nil {
		return nil, err
	}
	return model.NodeActivated{LogMeta: meta, NodeID: nodeID, Operator: operator, Timestamp: ts}, nil
}

type eventArgs map[string]interface{}

func unpackArgs(event abi.Event, record model.LogRecord) (eventArgs, error) {
	indexed := indexedArguments(event.Inputs)
	if len(record.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", event.Name, len(indexed)+1, len(record.Topics))
	}
	topics, err := parseTopicHashes(record.Topics[1:])
	if err != nil {
		return nil, err
	}

	args := make(eventArgs, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(args, indexed, topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}

	data, err := hexutil.Decode(record.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(args, data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return args, nil
}

func (a eventArgs) bigIntArg(name string) (*big.Int, error) {
	value, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %s", name)
	}
	v, ok := value.(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %s: unexpected type %T", name, value)
	}
	return v, nil
}

func (a eventArgs) idArg(name string) (string, error) {
	v, err := a.bigIntArg(name)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (a eventArgs) amountArg(name string) (decimal.Decimal, error) {
	v, err := a.bigIntArg(name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(v, 0), nil
}

func (a eventArgs) uint64Arg(name string) (uint64, error) {
	v, err := a.bigIntArg(name)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("argument %s out of range: %s", name, v)
	}
	return v.Uint64(), nil
}

func (a eventArgs) uint8Arg(name string) (uint8, error) {
	value, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %s", name)
	}
	v, ok := value.(uint8)
	if !ok {
		return 0, fmt.Errorf("argument %s: unexpected type %T", name, value)
	}
	return v, nil
}

func (a eventArgs) addressArg(name string) (string, error) {
	value, ok := a[name]
	if !ok {
		return "", fmt.Errorf("missing argument %s", name)
	}
	v, ok := value.(common.Address)
	if !ok {
		return "", fmt.Errorf("argument %s: unexpected type %T", name, value)
	}
	return v.Hex(), nil
}

func (a eventArgs) stringArg(name string) (string, error) {
	value, ok := a[name]
	if !ok {
		return "", fmt.Errorf("missing argument %s", name)
	}
	v, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("argument %s: unexpected type %T", name, value)
	}
	return v, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		hash, err := parseHash(topic)
		if err != nil {
			return nil, err
		}
		out = append(out, hash)
	}
	return out, nil
}

func parseHash(value string) (common.Hash, error) {
	data, err := hexutil.Decode(value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic: %w", err)
	}
	if len(data) > 32 {
		return common.Hash{}, fmt.Errorf("topic length %d", len(data))
	}
	return common.BytesToHash(data), nil
}

func normalizeAddress(address string) string {
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return strings.ToLower(address)
}
