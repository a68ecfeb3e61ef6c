package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"waveScope/internal/contracts"
	"waveScope/internal/model"
)

// ErrUnknownEvent is returned for logs whose (contract, topic0) pair is not routed.
var ErrUnknownEvent = errors.New("unknown event")

type buildFunc func(meta model.EventMeta, fields map[string]interface{}) (model.Event, error)

type route struct {
	event abi.Event
	build buildFunc
}

type routeKey struct {
	contract common.Address
	topic    common.Hash
}

// Decoder maps raw contract logs to typed game events.
type Decoder struct {
	routes map[routeKey]route
}

// NewDecoder builds a decoder for the duel contract and prize pool contract addresses.
func NewDecoder(challenge, pool common.Address) (*Decoder, error) {
	challengeABI, err := contracts.ChallengeFlipABI()
	if err != nil {
		return nil, fmt.Errorf("challenge abi: %w", err)
	}
	poolABI, err := contracts.PrizePoolABI()
	if err != nil {
		return nil, fmt.Errorf("pool abi: %w", err)
	}
	legacyABI, err := contracts.PrizePoolLegacyABI()
	if err != nil {
		return nil, fmt.Errorf("pool legacy abi: %w", err)
	}

	d := &Decoder{routes: make(map[routeKey]route)}
	d.add(challenge, challengeABI.Events["ChallengeCreated"], buildChallengeCreated)
	d.add(challenge, challengeABI.Events["EnteredChallenge"], buildEnteredChallenge)
	d.add(challenge, challengeABI.Events["WinnerDrawn"], buildDuelWinnerDrawn)
	d.add(pool, poolABI.Events["PoolCreated"], buildPoolCreated)
	d.add(pool, poolABI.Events["EnteredPool"], buildEnteredPool)
	d.add(pool, poolABI.Events["WinnerDrawn"], buildPoolWinnerDrawn)
	d.add(pool, legacyABI.Events["WinnerDrawn"], buildPoolWinnerDrawn)
	d.add(pool, poolABI.Events["PayoutClaimed"], buildPayoutClaimed)
	return d, nil
}

func (d *Decoder) add(contract common.Address, event abi.Event, build buildFunc) {
	d.routes[routeKey{contract: contract, topic: event.ID}] = route{event: event, build: build}
}

// CanDecode reports whether logs with topic0 from contract are routed.
func (d *Decoder) CanDecode(contract common.Address, topic0 common.Hash) bool {
	_, ok := d.routes[routeKey{contract: contract, topic: topic0}]
	return ok
}

// Decode converts a log into a typed event. The block time on the result is
// left at zero; callers resolve it.
func (d *Decoder) Decode(log types.Log) (model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	r, ok := d.routes[routeKey{contract: log.Address, topic: log.Topics[0]}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownEvent, log.Topics[0].Hex(), log.Address.Hex())
	}

	fields, err := unpackEvent(r.event, log)
	if err != nil {
		return nil, err
	}

	return r.build(logMeta(log), fields)
}

// logMeta is the origin of every event decoded from log.
func logMeta(log types.Log) model.EventMeta {
	return model.EventMeta{
		Contract:    log.Address.Hex(),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}
}

// DecodeRecord decodes a log stored in a JSONL dump.
func (d *Decoder) DecodeRecord(record model.LogRecord) (model.Event, error) {
	log, err := logFromRecord(record)
	if err != nil {
		return nil, err
	}
	event, err := d.Decode(log)
	if err != nil {
		return nil, err
	}
	event.SetBlockTime(record.Timestamp)
	return event, nil
}

func logFromRecord(record model.LogRecord) (types.Log, error) {
	if !common.IsHexAddress(record.Address) {
		return types.Log{}, fmt.Errorf("invalid contract address: %s", record.Address)
	}
	topics := make([]common.Hash, 0, len(record.Topics))
	for _, topic := range record.Topics {
		raw, err := hexutil.Decode(topic)
		if err != nil {
			return types.Log{}, fmt.Errorf("invalid topic: %w", err)
		}
		if len(raw) > 32 {
			return types.Log{}, fmt.Errorf("topic length %d", len(raw))
		}
		topics = append(topics, common.BytesToHash(raw))
	}
	var data []byte
	if record.Data != "" && record.Data != "0x" {
		var err error
		data, err = hexutil.Decode(record.Data)
		if err != nil {
			return types.Log{}, fmt.Errorf("invalid data: %w", err)
		}
	}
	return types.Log{
		Address:     common.HexToAddress(record.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: record.BlockNumber,
		TxHash:      common.HexToHash(record.TxHash),
		BlockHash:   common.HexToHash(record.BlockHash),
		Index:       uint(record.LogIndex),
		Removed:     record.Removed,
	}, nil
}

func unpackEvent(event abi.Event, log types.Log) (map[string]interface{}, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", event.Name, len(indexed)+1, len(log.Topics))
	}

	fields := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return fields, nil
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

func buildChallengeCreated(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.ChallengeCreated{EventMeta: meta}
		err error
	)
	if e.Round, err = bigField(f, "challengeId"); err != nil {
		return nil, err
	}
	if e.Creator, err = addressField(f, "creator"); err != nil {
		return nil, err
	}
	if e.Stake, err = bigField(f, "xpAmount"); err != nil {
		return nil, err
	}
	return e, nil
}

func buildEnteredChallenge(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.EnteredChallenge{EventMeta: meta}
		err error
	)
	if e.Round, err = bigField(f, "challengeId"); err != nil {
		return nil, err
	}
	if e.Account, err = addressField(f, "user"); err != nil {
		return nil, err
	}
	if e.Stake, err = bigField(f, "xpAmount"); err != nil {
		return nil, err
	}
	return e, nil
}

func buildDuelWinnerDrawn(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.DuelWinnerDrawn{EventMeta: meta}
		err error
	)
	if e.Round, err = bigField(f, "challengeId"); err != nil {
		return nil, err
	}
	if e.ParticipantA, err = addressField(f, "player1"); err != nil {
		return nil, err
	}
	if e.ParticipantB, err = addressField(f, "player2"); err != nil {
		return nil, err
	}
	if e.Stake, err = bigField(f, "wager"); err != nil {
		return nil, err
	}
	if e.Result, err = boolField(f, "result"); err != nil {
		return nil, err
	}
	if e.Winner, err = addressField(f, "winner"); err != nil {
		return nil, err
	}
	if e.Time, err = bigField(f, "time"); err != nil {
		return nil, err
	}
	if e.Reward, err = bigField(f, "reward"); err != nil {
		return nil, err
	}
	return e, nil
}

func buildPoolCreated(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.PoolCreated{EventMeta: meta}
		err error
	)
	if e.Pool, err = bigField(f, "poolId"); err != nil {
		return nil, err
	}
	if e.BaseToken, err = addressField(f, "baseToken"); err != nil {
		return nil, err
	}
	if e.Limit, err = bigField(f, "limitAmount"); err != nil {
		return nil, err
	}
	if e.TicketPrice, err = bigField(f, "ticketPrice"); err != nil {
		return nil, err
	}
	if e.PoolVariant, err = boolField(f, "poolType"); err != nil {
		return nil, err
	}
	return e, nil
}

func buildEnteredPool(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.EnteredPool{EventMeta: meta}
		err error
	)
	if e.Pool, err = bigField(f, "poolId"); err != nil {
		return nil, err
	}
	if e.Account, err = addressField(f, "user"); err != nil {
		return nil, err
	}
	if e.Stake, err = bigField(f, "xpAmount"); err != nil {
		return nil, err
	}
	return e, nil
}

func buildPoolWinnerDrawn(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.PoolWinnerDrawn{EventMeta: meta}
		err error
	)
	if e.Pool, err = bigField(f, "poolId"); err != nil {
		return nil, err
	}
	if e.Winner, err = addressField(f, "winner"); err != nil {
		return nil, err
	}
	if e.Reward, err = bigField(f, "reward"); err != nil {
		return nil, err
	}
	if _, ok := f["poolType"]; ok {
		variant, err := boolField(f, "poolType")
		if err != nil {
			return nil, err
		}
		e.PoolVariant = &variant
	}
	return e, nil
}

func buildPayoutClaimed(meta model.EventMeta, f map[string]interface{}) (model.Event, error) {
	var (
		e   = &model.PayoutClaimed{EventMeta: meta}
		err error
	)
	if e.Pool, err = bigField(f, "poolId"); err != nil {
		return nil, err
	}
	if e.Winner, err = addressField(f, "winner"); err != nil {
		return nil, err
	}
	if e.Amount, err = bigField(f, "amount"); err != nil {
		return nil, err
	}
	return e, nil
}

func bigField(fields map[string]interface{}, name string) (*big.Int, error) {
	switch v := fields[name].(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("field %s: nil integer", name)
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case nil:
		return nil, fmt.Errorf("field %s: missing", name)
	default:
		return nil, fmt.Errorf("field %s: unsupported int type %T", name, v)
	}
}

func addressField(fields map[string]interface{}, name string) (string, error) {
	switch v := fields[name].(type) {
	case common.Address:
		return v.Hex(), nil
	case nil:
		return "", fmt.Errorf("field %s: missing", name)
	default:
		return "", fmt.Errorf("field %s: unsupported address type %T", name, v)
	}
}

func boolField(fields map[string]interface{}, name string) (bool, error) {
	switch v := fields[name].(type) {
	case bool:
		return v, nil
	case nil:
		return false, fmt.Errorf("field %s: missing", name)
	default:
		return false, fmt.Errorf("field %s: unsupported bool type %T", name, v)
	}
}

func eventName(event model.Event) string {
	if event == nil {
		return "unknown"
	}
	return event.Name()
}
