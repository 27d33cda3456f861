// Package eventmonitor tails the escrow contract's logs so the client reacts
// to on-chain activity it did not initiate: bounties created from other
// devices, submissions landing from other hunters, payouts settling. Polling
// FilterLogs keeps it working against plain HTTP providers that have no
// subscription support.
package eventmonitor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/chain"
	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// DefaultPollInterval is the log poll cadence.
const DefaultPollInterval = 15 * time.Second

// maxBlockRange caps a single FilterLogs window so catching up after
// downtime never produces an oversized query a provider would reject.
const maxBlockRange = 2000

// ContractEvent is one decoded escrow log.
type ContractEvent struct {
	Name         string // BountyCreated, SubmissionPrepared, WorkSubmitted, PayoutSent, BountyClosed
	BountyID     uint64
	SubmissionID *uint64 // set for submission-scoped events
	TxHash       common.Hash
	BlockNumber  uint64
}

// LogReader is the provider slice the monitor needs. *ethclient.Client
// satisfies it.
type LogReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Handler receives each decoded event in log order.
type Handler func(ContractEvent)

// Monitor polls escrow contract logs and dispatches decoded events.
type Monitor struct {
	reader       LogReader
	contractAddr common.Address
	handler      Handler
	pollInterval time.Duration

	eventsByTopic map[common.Hash]abi.Event
	topics        []common.Hash

	mu        sync.Mutex
	lastBlock uint64
	primed    bool

	wg sync.WaitGroup
}

// New creates a Monitor over the given provider. interval <= 0 uses the
// default.
func New(reader LogReader, contractAddr common.Address, interval time.Duration, handler Handler) (*Monitor, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	escrowABI, err := abi.JSON(strings.NewReader(chain.BountyEscrowABI))
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		reader:        reader,
		contractAddr:  contractAddr,
		handler:       handler,
		pollInterval:  interval,
		eventsByTopic: make(map[common.Hash]abi.Event),
	}
	for _, event := range escrowABI.Events {
		m.eventsByTopic[event.ID] = event
		m.topics = append(m.topics, event.ID)
	}
	return m, nil
}

// Start launches the poll loop. It stops when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if head, err := m.reader.BlockNumber(ctx); err != nil {
			log.WithError(err).Warn("Event monitor could not read the chain head, priming on the next poll")
		} else {
			m.prime(head)
		}

		log.WithFields(log.Fields{
			"contract": m.contractAddr.Hex(),
			"interval": m.pollInterval,
		}).Info("👀 Escrow event monitor started")

		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Poll(ctx); err != nil {
					log.WithError(err).Debug("Escrow log poll failed")
				}
			}
		}
	}()
}

// Wait blocks until the poll loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// prime records the starting block so history before startup is skipped.
func (m *Monitor) prime(head uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		m.lastBlock = head
		m.primed = true
	}
}

// Poll fetches and dispatches logs between the last seen block and the head.
func (m *Monitor) Poll(ctx context.Context) error {
	head, err := m.reader.BlockNumber(ctx)
	if err != nil {
		return err
	}
	m.prime(head)

	m.mu.Lock()
	from := m.lastBlock + 1
	m.mu.Unlock()

	if from > head {
		return nil
	}
	to := head
	if to-from > maxBlockRange {
		to = from + maxBlockRange
	}

	logs, err := m.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{m.contractAddr},
		Topics:    [][]common.Hash{m.topics},
	})
	if err != nil {
		return err
	}

	for _, vLog := range logs {
		event, ok := m.decode(vLog)
		if !ok {
			continue
		}
		metrics.ContractEvents.WithLabelValues(event.Name).Inc()
		log.WithFields(log.Fields{
			"event":    event.Name,
			"bountyID": event.BountyID,
			"block":    event.BlockNumber,
		}).Debug("📡 Escrow event observed")
		if m.handler != nil {
			m.handler(event)
		}
	}

	m.mu.Lock()
	m.lastBlock = to
	m.mu.Unlock()
	return nil
}

// decode turns a raw log into a ContractEvent. Every escrow event carries
// bountyId as its first indexed topic; submission events add submissionId
// as the second.
func (m *Monitor) decode(vLog types.Log) (ContractEvent, bool) {
	if len(vLog.Topics) < 2 {
		return ContractEvent{}, false
	}
	event, ok := m.eventsByTopic[vLog.Topics[0]]
	if !ok {
		return ContractEvent{}, false
	}

	decoded := ContractEvent{
		Name:        event.Name,
		BountyID:    vLog.Topics[1].Big().Uint64(),
		TxHash:      vLog.TxHash,
		BlockNumber: vLog.BlockNumber,
	}

	switch event.Name {
	case "SubmissionPrepared", "WorkSubmitted":
		if len(vLog.Topics) >= 3 {
			id := vLog.Topics[2].Big().Uint64()
			decoded.SubmissionID = &id
		}
	}
	return decoded, true
}
