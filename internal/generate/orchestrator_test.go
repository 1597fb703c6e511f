package generate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/security"
	"github.com/hitoshi/playable/internal/studio"
	"github.com/hitoshi/playable/internal/version"
)

const goodOutput = `{"message":"Built your game.","html":"<!DOCTYPE html><html><body><canvas></canvas><script>play()</script></body></html>","suggestedTitle":"Test Game","suggestedDescription":"A test game."}`

// --- mocks ---------------------------------------------------------

type mockUserRepo struct {
	mu             sync.Mutex
	user           *model.User
	incrementCalls int
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user != nil && m.user.ID == id {
		u := *m.user
		return &u, nil
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id, name, avatar string) error { return nil }

func (m *mockUserRepo) IncrementGamesCreated(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrementCalls++
	return nil
}

func (m *mockUserRepo) UpdateSubscription(ctx context.Context, id string, tier model.SubscriptionTier, status model.SubscriptionStatus, subscriptionID string) error {
	return nil
}
func (m *mockUserRepo) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	return nil
}
func (m *mockUserRepo) Deactivate(ctx context.Context, id string) error { return nil }

type mockLedgerRepo struct {
	mu         sync.Mutex
	debitCalls int
	debitOK    bool
	debitErr   error
}

func (m *mockLedgerRepo) Debit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debitCalls++
	if m.debitErr != nil {
		return false, m.debitErr
	}
	return m.debitOK, nil
}

func (m *mockLedgerRepo) Credit(ctx context.Context, userID string, amount int, kind model.TransactionKind, description, paymentIntentID string) (bool, error) {
	return true, nil
}

func (m *mockLedgerRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	return nil, nil
}

type mockVersionRepo struct {
	mu        sync.Mutex
	latest    int
	appendErr error
	appended  []*model.GameVersion
}

func (m *mockVersionRepo) Append(ctx context.Context, v *model.GameVersion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.latest = v.VersionNumber
	m.appended = append(m.appended, v)
	return "version-id", nil
}

func (m *mockVersionRepo) LatestNumber(ctx context.Context, userID, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}

func (m *mockVersionRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.GameVersion, error) {
	return nil, nil
}

func (m *mockVersionRepo) FindByNumber(ctx context.Context, userID, sessionID string, number int) (*model.GameVersion, error) {
	return nil, nil
}

func (m *mockVersionRepo) DeleteBeyondRetention(ctx context.Context, keep int) (int64, error) {
	return 0, nil
}

type mockStudioRepo struct {
	mu        sync.Mutex
	upserts   []*model.StudioSession
	upsertErr error
}

func (m *mockStudioRepo) FindActiveByUser(ctx context.Context, userID string) (*model.StudioSession, error) {
	return nil, nil
}

func (m *mockStudioRepo) FindByUserAndSession(ctx context.Context, userID, sessionID string) (*model.StudioSession, error) {
	return nil, nil
}

func (m *mockStudioRepo) Upsert(ctx context.Context, s *model.StudioSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts = append(m.upserts, s)
	return nil
}

func (m *mockStudioRepo) Deactivate(ctx context.Context, userID, sessionID string) error {
	return nil
}

func (m *mockStudioRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockGenerator struct {
	mu     sync.Mutex
	calls  int
	output string
	err    error
}

func (m *mockGenerator) GenerateStream(ctx context.Context, req GenRequest, onDelta func(int)) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if onDelta != nil {
		// 2チャンクに分けた受信を模す
		onDelta(len(m.output) / 2)
		onDelta(len(m.output))
	}
	return m.output, nil
}

func (m *mockGenerator) Generate(ctx context.Context, req GenRequest) (string, error) {
	return m.output, m.err
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// nopCollector はテスト用のメトリクス収集。呼び出しを記録する。
type nopCollector struct {
	mu                  sync.Mutex
	unreconciled        int
	persistenceDegraded int
	malformed           int
}

func (c *nopCollector) RecordGenerationSuccess(isIteration bool) {}
func (c *nopCollector) RecordGenerationFailure(reason string)    {}
func (c *nopCollector) RecordMalformedOutput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
}
func (c *nopCollector) RecordDebitUnreconciled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreconciled++
}
func (c *nopCollector) RecordPersistenceDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistenceDegraded++
}
func (c *nopCollector) RecordCreditsCharged(amount int)                 {}
func (c *nopCollector) RecordGenerationLatency(duration time.Duration) {}
func (c *nopCollector) RecordHTTPStatus(statusCode int)                {}

// --- harness -------------------------------------------------------

type harness struct {
	orch       *Orchestrator
	userRepo   *mockUserRepo
	ledgerRepo *mockLedgerRepo
	verRepo    *mockVersionRepo
	studioRepo *mockStudioRepo
	gen        *mockGenerator
	collector  *nopCollector
}

func newHarness(user *model.User) *harness {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	h := &harness{
		userRepo:   &mockUserRepo{user: user},
		ledgerRepo: &mockLedgerRepo{debitOK: true},
		verRepo:    &mockVersionRepo{},
		studioRepo: &mockStudioRepo{},
		gen:        &mockGenerator{output: goodOutput},
		collector:  &nopCollector{},
	}
	h.orch = NewOrchestrator(
		h.userRepo,
		ledger.NewService(h.ledgerRepo, h.userRepo, logger),
		version.NewService(h.verRepo, logger),
		studio.NewService(h.studioRepo, 0, logger),
		h.gen,
		security.NewTextSanitizer(),
		h.collector,
		logger,
	)
	return h
}

func freeUser(credits, gamesCreated int) *model.User {
	return &model.User{
		ID:           "user-1",
		Email:        "u@example.com",
		Tier:         model.TierFree,
		Credits:      credits,
		GamesCreated: gamesCreated,
	}
}

func proUser(credits int) *model.User {
	return &model.User{
		ID:      "user-1",
		Email:   "u@example.com",
		Tier:    model.TierPro,
		Credits: credits,
	}
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v (%T), want *model.APIError", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// --- tests ---------------------------------------------------------

// 残高50の無料ユーザーの初回生成: 成功し、50課金、残高0、バージョン1
func TestGenerate_NewGameHappyPath(t *testing.T) {
	h := newHarness(freeUser(50, 0))

	var events []Event
	result, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make a pong game",
	}, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.CreditsCharged != ledger.CostNewGame {
		t.Errorf("CreditsCharged = %d, want %d", result.CreditsCharged, ledger.CostNewGame)
	}
	if result.CreditsRemaining != 0 {
		t.Errorf("CreditsRemaining = %d, want 0", result.CreditsRemaining)
	}
	if result.VersionNumber != 1 {
		t.Errorf("VersionNumber = %d, want 1", result.VersionNumber)
	}
	if result.Unreconciled || result.PersistenceDegraded {
		t.Errorf("flags: unreconciled=%v degraded=%v", result.Unreconciled, result.PersistenceDegraded)
	}
	if !strings.Contains(result.HTML, "SCREENSHOT") {
		t.Error("screenshot script not injected")
	}
	if result.SuggestedTitle != "Test Game" {
		t.Errorf("SuggestedTitle = %q", result.SuggestedTitle)
	}
	if result.SessionID == "" {
		t.Error("SessionID should be assigned")
	}

	// 進捗イベント: statusとchunkが流れ、成果物は載らない
	var sawStatus, sawChunk bool
	for _, e := range events {
		switch e.Type {
		case EventStatus:
			sawStatus = true
		case EventChunk:
			sawChunk = true
			if e.Progress < 0 || e.Progress > 100 {
				t.Errorf("progress out of range: %d", e.Progress)
			}
		}
	}
	if !sawStatus || !sawChunk {
		t.Errorf("events missing: status=%v chunk=%v", sawStatus, sawChunk)
	}

	// セッションが保存されていること
	if len(h.studioRepo.upserts) != 1 {
		t.Fatalf("studio upserts = %d, want 1", len(h.studioRepo.upserts))
	}
	session := h.studioRepo.upserts[0]
	if len(session.Messages) != 2 {
		t.Errorf("session messages = %d, want 2", len(session.Messages))
	}
}

// 残高0での反復: 外部呼び出しの前にINSUFFICIENT_CREDITSで拒否されること
func TestGenerate_InsufficientCreditsBeforeAnyCall(t *testing.T) {
	h := newHarness(proUser(0))

	_, err := h.orch.Generate(context.Background(), Request{
		UserID:       "user-1",
		Prompt:       "add a boss",
		ExistingHTML: "<html><script>x</script></html>",
	}, nil)

	assertAPIError(t, err, model.ErrCodeInsufficientCredits)
	if h.gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", h.gen.callCount())
	}
	if h.ledgerRepo.debitCalls != 0 {
		t.Errorf("debit calls = %d, want 0", h.ledgerRepo.debitCalls)
	}

	// Metaに必要数と保有数が入っていること
	var apiErr *model.APIError
	errors.As(err, &apiErr)
	if apiErr.Meta["required"] != ledger.CostIteration {
		t.Errorf("Meta[required] = %v, want %d", apiErr.Meta["required"], ledger.CostIteration)
	}
	if apiErr.Meta["available"] != 0 {
		t.Errorf("Meta[available] = %v, want 0", apiErr.Meta["available"])
	}
}

// 無料プランは反復できないこと
func TestGenerate_FreeTierCannotIterate(t *testing.T) {
	h := newHarness(freeUser(50, 0))

	_, err := h.orch.Generate(context.Background(), Request{
		UserID:       "user-1",
		Prompt:       "add a boss",
		ExistingHTML: "<html><script>x</script></html>",
	}, nil)

	assertAPIError(t, err, model.ErrCodeTierLimit)
	if h.gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", h.gen.callCount())
	}
}

// 無料プランは2つ目の新規ゲームを作れないこと
func TestGenerate_FreeTierSecondGameBlocked(t *testing.T) {
	h := newHarness(freeUser(100, 1))

	_, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make another game",
	}, nil)

	assertAPIError(t, err, model.ErrCodeTierLimit)
}

// 料金は既存HTMLの有無だけで決まること（内容や会話の長さは無関係）
func TestGenerate_PricingByExistingHTMLOnly(t *testing.T) {
	h := newHarness(proUser(1000))

	history := []model.Message{
		{Role: model.RoleUser, Text: "make a game"},
		{Role: model.RoleModel, Text: "done"},
		{Role: model.RoleUser, Text: "tweak it"},
		{Role: model.RoleModel, Text: "done"},
	}

	// 長い履歴つきでも既存HTMLがなければ新規料金
	result, err := h.orch.Generate(context.Background(), Request{
		UserID:  "user-1",
		Prompt:  "make a fresh game",
		History: history,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CreditsCharged != ledger.CostNewGame {
		t.Errorf("CreditsCharged = %d, want %d", result.CreditsCharged, ledger.CostNewGame)
	}

	// 既存HTMLがあれば反復料金
	result, err = h.orch.Generate(context.Background(), Request{
		UserID:       "user-1",
		SessionID:    result.SessionID,
		Prompt:       "tweak colors",
		ExistingHTML: result.HTML,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CreditsCharged != ledger.CostIteration {
		t.Errorf("CreditsCharged = %d, want %d", result.CreditsCharged, ledger.CostIteration)
	}
}

// 生成バックエンド障害はGENERATOR_UNAVAILABLEになり課金されないこと
func TestGenerate_BackendFailureNoCharge(t *testing.T) {
	h := newHarness(proUser(1000))
	h.gen.err = errors.New("upstream 503")

	_, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make a game",
	}, nil)

	assertAPIError(t, err, model.ErrCodeGeneratorUnavailable)
	if h.ledgerRepo.debitCalls != 0 {
		t.Errorf("debit calls = %d, want 0", h.ledgerRepo.debitCalls)
	}
}

// 修復パス後も解析できない出力はMALFORMED_OUTPUTになり課金されないこと
func TestGenerate_MalformedOutputNoCharge(t *testing.T) {
	h := newHarness(proUser(1000))
	h.gen.output = "I am sorry, I cannot produce a game right now."

	_, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make a game",
	}, nil)

	assertAPIError(t, err, model.ErrCodeMalformedOutput)
	if h.ledgerRepo.debitCalls != 0 {
		t.Errorf("debit calls = %d, want 0", h.ledgerRepo.debitCalls)
	}
	if h.collector.malformed != 1 {
		t.Errorf("malformed metric = %d, want 1", h.collector.malformed)
	}
}

// 減算リトライが尽きても成果物は配信され、未精算フラグが立つこと
func TestGenerate_DebitExhaustedStillDelivers(t *testing.T) {
	h := newHarness(proUser(1000))
	h.ledgerRepo.debitErr = errors.New("ledger down")

	result, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make a game",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Unreconciled {
		t.Error("Unreconciled should be true")
	}
	if result.HTML == "" {
		t.Error("artifact should still be delivered")
	}
	if h.ledgerRepo.debitCalls != 3 {
		t.Errorf("debit calls = %d, want 3", h.ledgerRepo.debitCalls)
	}
	if h.collector.unreconciled != 1 {
		t.Errorf("unreconciled metric = %d, want 1", h.collector.unreconciled)
	}
}

// 課金後の世代保存失敗は結果を止めず、劣化フラグが立つこと
func TestGenerate_VersionAppendFailureDegrades(t *testing.T) {
	h := newHarness(proUser(1000))
	h.verRepo.appendErr = errors.New("db down")

	result, err := h.orch.Generate(context.Background(), Request{
		UserID: "user-1",
		Prompt: "make a game",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.PersistenceDegraded {
		t.Error("PersistenceDegraded should be true")
	}
	if result.HTML == "" {
		t.Error("artifact should still be delivered")
	}
	if result.CreditsCharged != ledger.CostNewGame {
		t.Errorf("CreditsCharged = %d, want %d", result.CreditsCharged, ledger.CostNewGame)
	}
	if h.collector.persistenceDegraded == 0 {
		t.Error("persistence degraded metric should be recorded")
	}
}

// 連続生成で世代番号が単調増加すること
func TestGenerate_VersionNumbersAdvance(t *testing.T) {
	h := newHarness(proUser(10000))

	var sessionID string
	for want := 1; want <= 3; want++ {
		req := Request{UserID: "user-1", SessionID: sessionID, Prompt: "iterate"}
		if sessionID != "" {
			req.ExistingHTML = "<html><script>x</script></html>"
		}
		result, err := h.orch.Generate(context.Background(), req, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.VersionNumber != want {
			t.Errorf("VersionNumber = %d, want %d", result.VersionNumber, want)
		}
		sessionID = result.SessionID
	}
}

// 認証なしはUNAUTHORIZED、空プロンプトはINVALID_REQUESTで弾くこと
func TestGenerate_ValidationErrors(t *testing.T) {
	h := newHarness(proUser(1000))

	_, err := h.orch.Generate(context.Background(), Request{Prompt: "make a game"}, nil)
	assertAPIError(t, err, model.ErrCodeUnauthorized)

	_, err = h.orch.Generate(context.Background(), Request{UserID: "user-1"}, nil)
	assertAPIError(t, err, model.ErrCodeInvalidRequest)

	_, err = h.orch.Generate(context.Background(), Request{UserID: "unknown", Prompt: "x"}, nil)
	assertAPIError(t, err, model.ErrCodeUnauthorized)
}
