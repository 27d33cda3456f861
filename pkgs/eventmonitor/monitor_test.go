package eventmonitor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
)

var escrowAddr = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

type fakeReader struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, vLog := range f.logs {
		if vLog.BlockNumber >= q.FromBlock.Uint64() && vLog.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, vLog)
		}
	}
	return out, nil
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeReader) setHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

func eventID(t *testing.T, name string) common.Hash {
	t.Helper()
	escrowABI, err := abi.JSON(strings.NewReader(chain.BountyEscrowABI))
	require.NoError(t, err)
	event, ok := escrowABI.Events[name]
	require.True(t, ok, name)
	return event.ID
}

func escrowLog(t *testing.T, name string, block uint64, topics ...uint64) types.Log {
	t.Helper()
	vLog := types.Log{
		Address:     escrowAddr,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xab"),
		Topics:      []common.Hash{eventID(t, name)},
	}
	for _, topic := range topics {
		vLog.Topics = append(vLog.Topics, common.BigToHash(new(big.Int).SetUint64(topic)))
	}
	return vLog
}

func collect(events *[]ContractEvent, mu *sync.Mutex) Handler {
	return func(ev ContractEvent) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
	}
}

func TestMonitorSkipsHistoryBeforeStartup(t *testing.T) {
	reader := &fakeReader{head: 100}
	reader.logs = []types.Log{escrowLog(t, "BountyCreated", 50, 7)}

	var mu sync.Mutex
	var events []ContractEvent
	m, err := New(reader, escrowAddr, DefaultPollInterval, collect(&events, &mu))
	require.NoError(t, err)

	require.NoError(t, m.Poll(context.Background()))

	assert.Empty(t, events, "logs before the first observed head are history")
}

func TestMonitorDecodesNewEvents(t *testing.T) {
	reader := &fakeReader{head: 100}

	var mu sync.Mutex
	var events []ContractEvent
	m, err := New(reader, escrowAddr, DefaultPollInterval, collect(&events, &mu))
	require.NoError(t, err)
	require.NoError(t, m.Poll(context.Background())) // primes at 100

	reader.logs = []types.Log{
		escrowLog(t, "BountyCreated", 101, 7),
		escrowLog(t, "WorkSubmitted", 102, 7, 3),
		escrowLog(t, "BountyClosed", 103, 9),
	}
	reader.setHead(105)
	require.NoError(t, m.Poll(context.Background()))

	require.Len(t, events, 3)
	assert.Equal(t, "BountyCreated", events[0].Name)
	assert.Equal(t, uint64(7), events[0].BountyID)
	assert.Nil(t, events[0].SubmissionID)

	assert.Equal(t, "WorkSubmitted", events[1].Name)
	require.NotNil(t, events[1].SubmissionID)
	assert.Equal(t, uint64(3), *events[1].SubmissionID)

	assert.Equal(t, "BountyClosed", events[2].Name)
	assert.Equal(t, uint64(9), events[2].BountyID)
}

func TestMonitorDoesNotRedeliver(t *testing.T) {
	reader := &fakeReader{head: 100}

	var mu sync.Mutex
	var events []ContractEvent
	m, err := New(reader, escrowAddr, DefaultPollInterval, collect(&events, &mu))
	require.NoError(t, err)
	require.NoError(t, m.Poll(context.Background()))

	reader.logs = []types.Log{escrowLog(t, "BountyCreated", 101, 7)}
	reader.setHead(101)
	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Poll(context.Background()))

	assert.Len(t, events, 1, "a delivered log must not come back on the next poll")
}

func TestMonitorCapsBlockRange(t *testing.T) {
	reader := &fakeReader{head: 100}

	m, err := New(reader, escrowAddr, DefaultPollInterval, nil)
	require.NoError(t, err)
	require.NoError(t, m.Poll(context.Background()))

	reader.setHead(100_000)
	require.NoError(t, m.Poll(context.Background()))

	last := reader.queries[len(reader.queries)-1]
	assert.LessOrEqual(t, last.ToBlock.Uint64()-last.FromBlock.Uint64(), uint64(maxBlockRange))
}

func TestMonitorIgnoresForeignLogs(t *testing.T) {
	reader := &fakeReader{head: 100}

	var mu sync.Mutex
	var events []ContractEvent
	m, err := New(reader, escrowAddr, DefaultPollInterval, collect(&events, &mu))
	require.NoError(t, err)
	require.NoError(t, m.Poll(context.Background()))

	// Unknown topic0, and a known event missing its indexed bountyId.
	reader.logs = []types.Log{
		{Address: escrowAddr, BlockNumber: 101, Topics: []common.Hash{common.HexToHash("0x01")}},
		{Address: escrowAddr, BlockNumber: 102, Topics: []common.Hash{eventID(t, "BountyCreated")}},
	}
	reader.setHead(105)
	require.NoError(t, m.Poll(context.Background()))

	assert.Empty(t, events)
}
