package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"waveScope/internal/model"
)

const refreshTimeout = 10 * time.Second

// Notifier is the publishing surface used by the reconciliation engine and
// the analytics cache. Its methods never block on the store or on
// subscribers; leaderboard refreshes are coalesced into one background query.
type Notifier struct {
	sink   Sink
	source LeaderboardSource
	size   int
	logger *zap.Logger

	refresh chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewNotifier(sink Sink, source LeaderboardSource, size int, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 50
	}
	return &Notifier{
		sink:    sink,
		source:  source,
		size:    size,
		logger:  logger,
		refresh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start runs the leaderboard refresh loop until Stop or ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.refresh:
				n.publishLeaderboard(ctx)
			case <-n.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.stop) })
	n.wg.Wait()
}

// LeaderboardChanged requests a leaderboard broadcast. Requests made while
// one is pending collapse into it.
func (n *Notifier) LeaderboardChanged() {
	select {
	case n.refresh <- struct{}{}:
	default:
	}
}

func (n *Notifier) publishLeaderboard(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	msg, err := LeaderboardMessage(ctx, n.source, n.size)
	if err != nil {
		n.logger.Error("leaderboard refresh failed", zap.Error(err))
		return
	}
	n.sink.Publish(msg)
}

func (n *Notifier) BetPlaced(row BetPlaced) {
	n.sink.Publish(Message{Type: TypeBetPlaced, Data: row})
}

func (n *Notifier) HistoryAppended(row model.WinHistoryRow) {
	n.sink.Publish(Message{Type: TypeHistoryAppended, Data: HistoryEntry{Kind: HistoryWin, Win: &row}})
}

func (n *Notifier) PoolCreated(notice PoolCreatedNotice) {
	n.sink.Publish(Message{Type: TypeHistoryAppended, Data: HistoryEntry{Kind: HistoryPoolCreated, PoolCreated: &notice}})
}

func (n *Notifier) PayoutClaimed(notice PayoutNotice) {
	n.sink.Publish(Message{Type: TypeHistoryAppended, Data: HistoryEntry{Kind: HistoryPayoutClaimed, PayoutClaimed: &notice}})
}

func (n *Notifier) UsersUpdated() {
	n.sink.Publish(Message{Type: TypeUsersUpdated})
}

func (n *Notifier) AnalyticsUpdated(snapshot model.AnalyticsSnapshot) {
	n.sink.Publish(Message{Type: TypeAnalyticsUpdated, Data: snapshot})
}

// AccountKicked is delivered only to the account's own subscribers.
func (n *Notifier) AccountKicked(accountID string) {
	n.sink.Publish(Message{
		Type:      TypeAccountKicked,
		Data:      AccountKicked{AccountID: accountID},
		AccountID: accountID,
	})
}
