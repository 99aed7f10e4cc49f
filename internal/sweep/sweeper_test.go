package sweep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	contentrepository "github.com/postloom/postloom/internal/content/repository"
	generationdomain "github.com/postloom/postloom/internal/generation/domain"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	publisherdomain "github.com/postloom/postloom/internal/publisher/domain"
	"github.com/postloom/postloom/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type connectionsStub struct {
	conns  map[snowflake.ID]*connectiondomain.Connection
	expire []*connectiondomain.Connection
}

func (c *connectionsStub) ActiveForAccount(ctx context.Context, accountID snowflake.ID, platform connectiondomain.Platform) (*connectiondomain.Connection, error) {
	conn, ok := c.conns[accountID]
	if !ok {
		return nil, connectiondomain.ErrNoActiveConnection
	}
	return conn, nil
}

func (c *connectionsStub) ExpireConnections(ctx context.Context, cutoff time.Time) ([]*connectiondomain.Connection, error) {
	out := c.expire
	c.expire = nil
	return out, nil
}

func (c *connectionsStub) BeginOAuth(context.Context, connectiondomain.Platform) (connectiondomain.BeginOAuthResponse, error) {
	return connectiondomain.BeginOAuthResponse{}, nil
}
func (c *connectionsStub) CompleteOAuth(context.Context, connectiondomain.CompleteOAuthRequest) (*connectiondomain.Connection, error) {
	return nil, nil
}
func (c *connectionsStub) List(context.Context) ([]*connectiondomain.Connection, error) {
	return nil, nil
}
func (c *connectionsStub) Disconnect(context.Context, snowflake.ID) error { return nil }
func (c *connectionsStub) ByExternalAccountID(context.Context, connectiondomain.Platform, string) (*connectiondomain.Connection, error) {
	return nil, connectiondomain.ErrNoActiveConnection
}

type publisherStub struct {
	failAccounts map[snowflake.ID]error
	published    []snowflake.ID
}

func (p *publisherStub) Publish(ctx context.Context, conn *connectiondomain.Connection, item *contentdomain.Item) (*publisherdomain.PublishResult, error) {
	if err, ok := p.failAccounts[item.AccountID]; ok {
		return nil, err
	}
	p.published = append(p.published, item.ID)
	return &publisherdomain.PublishResult{ExternalMediaID: fmt.Sprintf("ext-%d", item.ID)}, nil
}

type generationStub struct {
	summary generationdomain.PollSummary
	err     error
}

func (g *generationStub) Generate(context.Context, generationdomain.GenerateRequest) (*contentdomain.Item, error) {
	return nil, generationdomain.ErrInvalidKind
}
func (g *generationStub) PollTasks(context.Context, int) (generationdomain.PollSummary, error) {
	return g.summary, g.err
}
func (g *generationStub) Retry(context.Context, snowflake.ID) (*contentdomain.Item, error) {
	return nil, generationdomain.ErrInvalidKind
}

type notifySpy struct {
	kinds []notificationdomain.Kind
}

func (n *notifySpy) Notify(ctx context.Context, accountID snowflake.ID, kind notificationdomain.Kind, title, body string) {
	n.kinds = append(n.kinds, kind)
}
func (n *notifySpy) List(context.Context, pagination.Pagination) (notificationdomain.ListResponse, error) {
	return notificationdomain.ListResponse{}, nil
}
func (n *notifySpy) MarkRead(context.Context, snowflake.ID) error { return nil }
func (n *notifySpy) MarkAllRead(context.Context) error            { return nil }

type sweepFixture struct {
	sweeper     *Sweeper
	conn        *gorm.DB
	repo        contentdomain.Repository
	connections *connectionsStub
	publisher   *publisherStub
	generation  *generationStub
	notifier    *notifySpy
	clock       *clock.FakeClock
	node        *snowflake.Node
}

func setupSweeper(t *testing.T) *sweepFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := conn.AutoMigrate(&contentdomain.Item{}, &connectiondomain.Connection{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	f := &sweepFixture{
		conn:        conn,
		repo:        contentrepository.New(),
		connections: &connectionsStub{conns: map[snowflake.ID]*connectiondomain.Connection{}},
		publisher:   &publisherStub{failAccounts: map[snowflake.ID]error{}},
		generation:  &generationStub{},
		notifier:    &notifySpy{},
		clock:       clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)),
		node:        node,
	}

	sweeper, err := New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Content:     f.repo,
		Connections: f.connections,
		Generation:  f.generation,
		Publisher:   f.publisher,
		Notifier:    f.notifier,
		Config:      Config{BatchSize: 10},
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	f.sweeper = sweeper
	return f
}

// connect registers an active connection both in the stub and in the
// database, where the claim query looks for it.
func (f *sweepFixture) connect(t *testing.T, accountID snowflake.ID) {
	t.Helper()
	conn := &connectiondomain.Connection{
		ID:                f.node.Generate(),
		AccountID:         accountID,
		Platform:          connectiondomain.PlatformInstagram,
		ExternalAccountID: fmt.Sprintf("ig-%d", accountID),
		AccessToken:       "token",
		Active:            true,
		CreatedAt:         f.clock.Now().UTC(),
		UpdatedAt:         f.clock.Now().UTC(),
	}
	f.connections.conns[accountID] = conn
	if err := f.conn.Create(conn).Error; err != nil {
		t.Fatalf("seed connection: %v", err)
	}
}

func (f *sweepFixture) seedScheduled(t *testing.T, accountID snowflake.ID, at time.Time) *contentdomain.Item {
	t.Helper()
	item := &contentdomain.Item{
		ID:          f.node.Generate(),
		AccountID:   accountID,
		Kind:        contentdomain.KindImage,
		Status:      contentdomain.StatusScheduled,
		MediaURL:    "https://cdn.example.com/img.jpg",
		ScheduledAt: &at,
		CreatedAt:   f.clock.Now().UTC(),
		UpdatedAt:   f.clock.Now().UTC(),
	}
	if err := f.conn.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func (f *sweepFixture) itemStatus(t *testing.T, id snowflake.ID) contentdomain.Status {
	t.Helper()
	var item contentdomain.Item
	if err := f.conn.Where("id = ?", id).First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	return item.Status
}

func TestPublishDueRespectsSchedule(t *testing.T) {
	f := setupSweeper(t)
	f.connect(t, 1)

	now := f.clock.Now().UTC()
	due1 := f.seedScheduled(t, 1, now.Add(-10*time.Minute))
	due2 := f.seedScheduled(t, 1, now.Add(-5*time.Minute))
	due3 := f.seedScheduled(t, 1, now)
	future := f.seedScheduled(t, 1, now.Add(2*time.Hour))

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Processed != 3 || summary.Published != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for _, id := range []snowflake.ID{due1.ID, due2.ID, due3.ID} {
		if got := f.itemStatus(t, id); got != contentdomain.StatusPublished {
			t.Fatalf("item %d status %q, want published", id, got)
		}
	}
	if got := f.itemStatus(t, future.ID); got != contentdomain.StatusScheduled {
		t.Fatalf("future item status %q, want scheduled", got)
	}

	var published contentdomain.Item
	if err := f.conn.Where("id = ?", due1.ID).First(&published).Error; err != nil {
		t.Fatalf("load published: %v", err)
	}
	if published.ExternalMediaID == "" || published.PublishedAt == nil {
		t.Fatalf("published item missing platform fields: %+v", published)
	}
}

func TestPublishFailureIsolatedPerItem(t *testing.T) {
	f := setupSweeper(t)
	f.connect(t, 1)
	f.connect(t, 2)
	f.publisher.failAccounts[1] = fmt.Errorf("%w: media fetch 500", publisherdomain.ErrExternal)

	now := f.clock.Now().UTC()
	failing := f.seedScheduled(t, 1, now.Add(-time.Minute))
	succeeding := f.seedScheduled(t, 2, now.Add(-time.Minute))

	summary, err := f.sweeper.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected aggregate error from failing item")
	}
	if summary.Processed != 2 || summary.Published != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if got := f.itemStatus(t, failing.ID); got != contentdomain.StatusFailed {
		t.Fatalf("failing item status %q, want failed", got)
	}
	if got := f.itemStatus(t, succeeding.ID); got != contentdomain.StatusPublished {
		t.Fatalf("succeeding item status %q, want published", got)
	}

	var failed contentdomain.Item
	if err := f.conn.Where("id = ?", failing.ID).First(&failed).Error; err != nil {
		t.Fatalf("load failed item: %v", err)
	}
	if failed.ErrorText == "" {
		t.Fatal("failed item has no error text")
	}

	var succeededKind, failedKind bool
	for _, kind := range f.notifier.kinds {
		switch kind {
		case notificationdomain.KindPublishSucceeded:
			succeededKind = true
		case notificationdomain.KindPublishFailed:
			failedKind = true
		}
	}
	if !succeededKind || !failedKind {
		t.Fatalf("expected both outcome notifications, got %v", f.notifier.kinds)
	}
}

func TestSecondSweepFindsNothing(t *testing.T) {
	f := setupSweeper(t)
	f.connect(t, 1)

	now := f.clock.Now().UTC()
	f.seedScheduled(t, 1, now.Add(-time.Minute))

	first, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Processed != 1 {
		t.Fatalf("first sweep processed %d, want 1", first.Processed)
	}

	second, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Processed != 0 {
		t.Fatalf("second sweep processed %d, want 0", second.Processed)
	}
	if len(f.publisher.published) != 1 {
		t.Fatalf("published %d times, want 1", len(f.publisher.published))
	}
}

func TestUnconnectedAccountKeepsItemsScheduled(t *testing.T) {
	f := setupSweeper(t)

	now := f.clock.Now().UTC()
	item := f.seedScheduled(t, 9, now.Add(-time.Minute))

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.itemStatus(t, item.ID); got != contentdomain.StatusScheduled {
		t.Fatalf("item status %q, want scheduled", got)
	}

	// Reconnecting makes the backlog claimable again.
	f.connect(t, 9)
	second, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Published != 1 {
		t.Fatalf("unexpected summary after reconnect: %+v", second)
	}
	if got := f.itemStatus(t, item.ID); got != contentdomain.StatusPublished {
		t.Fatalf("item status %q, want published", got)
	}
}

func TestConnectionLostAfterClaimRequeues(t *testing.T) {
	f := setupSweeper(t)
	f.connect(t, 5)
	// The token is revoked after the claim query already saw the row.
	delete(f.connections.conns, 5)

	now := f.clock.Now().UTC()
	item := f.seedScheduled(t, 5, now.Add(-time.Minute))

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Processed != 1 || summary.Requeued != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.itemStatus(t, item.ID); got != contentdomain.StatusScheduled {
		t.Fatalf("item status %q, want scheduled", got)
	}
	if len(f.publisher.published) != 0 {
		t.Fatalf("publisher called for item without connection")
	}
}

func TestGenerationPollFeedsSummary(t *testing.T) {
	f := setupSweeper(t)
	f.generation.summary = generationdomain.PollSummary{Checked: 4, Completed: 3, Failed: 1}

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.GenerationChecked != 4 || summary.GenerationCompleted != 3 || summary.GenerationFailed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestExpireConnectionsNotifiesOwners(t *testing.T) {
	f := setupSweeper(t)
	f.connections.expire = []*connectiondomain.Connection{
		{AccountID: 3, Platform: connectiondomain.PlatformInstagram},
		{AccountID: 4, Platform: connectiondomain.PlatformInstagram},
	}

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.ConnectionsExpired != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	expired := 0
	for _, kind := range f.notifier.kinds {
		if kind == notificationdomain.KindConnectionExpired {
			expired++
		}
	}
	if expired != 2 {
		t.Fatalf("expected 2 expiry notifications, got %d", expired)
	}
}

func TestDisabledJobSkipped(t *testing.T) {
	f := setupSweeper(t)
	f.sweeper.cfg.EnabledJobs = []string{"generation_poll"}
	f.connect(t, 1)
	f.seedScheduled(t, 1, f.clock.Now().UTC().Add(-time.Minute))

	summary, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("publish job ran while disabled: %+v", summary)
	}
}
