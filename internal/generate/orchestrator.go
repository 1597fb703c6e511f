package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/playable/internal/ledger"
	"github.com/hitoshi/playable/internal/metrics"
	"github.com/hitoshi/playable/internal/model"
	"github.com/hitoshi/playable/internal/repository"
	"github.com/hitoshi/playable/internal/security"
	"github.com/hitoshi/playable/internal/studio"
	"github.com/hitoshi/playable/internal/version"
)

// EventType はストリーミング中に呼び出し元へ流すイベントの種別。
type EventType string

const (
	// EventStatus は工程の切り替わりを通知する。
	EventStatus EventType = "status"
	// EventChunk は生成の進捗率を通知する。
	EventChunk EventType = "chunk"
)

// Event は生成中に発行される進捗イベント。
// 部分的な成果物は決して含まない。
type Event struct {
	Type     EventType `json:"type"`
	Status   string    `json:"status,omitempty"`
	Progress int       `json:"progress,omitempty"`
}

// Request は1回の生成リクエスト。
type Request struct {
	UserID    string
	SessionID string
	Prompt    string
	// ExistingHTML が空でなければ反復生成として扱う。内容は見ない。
	ExistingHTML string
	History      []model.Message
}

// Result は生成の最終結果。成果物と課金・永続化の実際の状態を運ぶ。
type Result struct {
	Message              string `json:"message"`
	HTML                 string `json:"html"`
	SuggestedTitle       string `json:"suggestedTitle,omitempty"`
	SuggestedDescription string `json:"suggestedDescription,omitempty"`
	SessionID            string `json:"sessionId"`
	VersionNumber        int    `json:"versionNumber"`
	CreditsCharged       int    `json:"creditsCharged"`
	CreditsRemaining     int    `json:"creditsRemaining"`
	// Unreconciled は減算リトライが尽き、成果物を未精算のまま配信した
	// ことを示す。照合ジョブの対象。
	Unreconciled bool `json:"unreconciled,omitempty"`
	// PersistenceDegraded は課金後に世代・セッションの保存が失敗した
	// ことを示す。成果物自体はこのレスポンスで届いている。
	PersistenceDegraded bool `json:"persistenceDegraded,omitempty"`
}

// Orchestrator は生成の全工程を束ねる。
// 検証 → 生成 → 解析 → コミット（課金・永続化）の順で進み、
// 課金前の失敗は一切課金しない。
type Orchestrator struct {
	userRepo   repository.UserRepository
	ledgerSvc  *ledger.Service
	versionSvc *version.Service
	studioSvc  *studio.Service
	generator  Generator
	sanitizer  security.TextSanitizerService
	collector  metrics.MetricsCollector
	logger     *slog.Logger
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	userRepo repository.UserRepository,
	ledgerSvc *ledger.Service,
	versionSvc *version.Service,
	studioSvc *studio.Service,
	generator Generator,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		userRepo:   userRepo,
		ledgerSvc:  ledgerSvc,
		versionSvc: versionSvc,
		studioSvc:  studioSvc,
		generator:  generator,
		sanitizer:  sanitizer,
		collector:  collector,
		logger:     logger,
	}
}

// Generate は1回の生成を実行する。emitには進捗イベントが流れる。
// 成果物はResultでのみ返り、途中のイベントに部分出力は載らない。
func (o *Orchestrator) Generate(ctx context.Context, req Request, emit func(Event)) (*Result, error) {
	start := time.Now()
	if emit == nil {
		emit = func(Event) {}
	}

	// --- Validating -------------------------------------------------
	user, cost, isIteration, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = studio.NewSessionID()
	}

	// --- Generating -------------------------------------------------
	emit(Event{Type: EventStatus, Status: "generating"})

	prompt := NewGamePrompt(req.Prompt)
	if isIteration {
		prompt = IterationPrompt(req.ExistingHTML, req.Prompt)
	}

	raw, err := o.generator.GenerateStream(ctx, GenRequest{
		SystemInstruction: SystemInstruction(),
		History:           req.History,
		Prompt:            prompt,
	}, func(totalBytes int) {
		emit(Event{Type: EventChunk, Progress: progressPercent(totalBytes)})
	})
	if err != nil {
		o.collector.RecordGenerationFailure("generator_unavailable")
		o.logger.Error("generation backend failed",
			slog.String("user_id", req.UserID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGeneratorUnavailableError()
	}

	// --- Parsing ----------------------------------------------------
	emit(Event{Type: EventStatus, Status: "parsing"})

	payload, err := ParseGameOutput(raw)
	if err != nil {
		o.collector.RecordGenerationFailure("malformed_output")
		o.collector.RecordMalformedOutput()
		o.logger.Error("generation output unparseable",
			slog.String("user_id", req.UserID),
			slog.String("session_id", sessionID),
			slog.String("raw_output", TruncateForLog(raw, 2000)),
		)
		return nil, err
	}

	artifact := InjectScreenshotScript(payload.HTML)
	if !ValidateArtifact(artifact) {
		o.collector.RecordGenerationFailure("malformed_output")
		o.collector.RecordMalformedOutput()
		o.logger.Error("generation output is not a playable artifact",
			slog.String("user_id", req.UserID),
			slog.String("session_id", sessionID),
			slog.String("raw_output", TruncateForLog(raw, 2000)),
		)
		return nil, model.NewMalformedOutputError()
	}

	// --- Committing -------------------------------------------------
	emit(Event{Type: EventStatus, Status: "saving"})

	result := &Result{
		Message:              payload.Message,
		HTML:                 artifact,
		SuggestedTitle:       o.sanitizer.SanitizeWithin(payload.SuggestedTitle, 80),
		SuggestedDescription: o.sanitizer.SanitizeWithin(payload.SuggestedDescription, 200),
		SessionID:            sessionID,
		CreditsCharged:       cost,
	}

	o.commit(ctx, req, user, result, isIteration, cost)

	o.collector.RecordGenerationSuccess(isIteration)
	o.collector.RecordGenerationLatency(time.Since(start))

	return result, nil
}

// validate はアイデンティティ、プラン制限、残高の事前チェックを行う。
// ここで弾かれた場合、外部呼び出しも状態変更も一切起きていない。
func (o *Orchestrator) validate(ctx context.Context, req Request) (*model.User, int, bool, error) {
	if req.UserID == "" {
		return nil, 0, false, model.NewUnauthorizedError()
	}
	if req.Prompt == "" {
		return nil, 0, false, model.NewInvalidRequestError("prompt is required")
	}

	user, err := o.userRepo.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || user.DeactivatedAt != nil {
		return nil, 0, false, model.NewUnauthorizedError()
	}

	isIteration := req.ExistingHTML != ""

	if isIteration {
		if !user.CanIterate() {
			return nil, 0, false, model.NewTierLimitError(user.Tier, "iteration requires a paid plan")
		}
	} else {
		if !user.CanCreateNewGame() {
			return nil, 0, false, model.NewTierLimitError(user.Tier, "free plan allows one game")
		}
	}

	cost := ledger.CostFor(isIteration)
	if user.Credits < cost {
		return nil, 0, false, model.NewInsufficientCreditsError(cost, user.Credits)
	}

	return user, cost, isIteration, nil
}

// commit は課金と永続化を行う。この時点で成果物は確定しており、
// ここでの失敗は結果のフラグに degrade するだけで配信は止めない。
func (o *Orchestrator) commit(ctx context.Context, req Request, user *model.User, result *Result, isIteration bool, cost int) {
	kind := model.TxKindGameGeneration
	description := "new game generation"
	if isIteration {
		kind = model.TxKindGameIteration
		description = "game iteration"
	}

	outcome, err := o.ledgerSvc.DebitWithRetry(ctx, req.UserID, cost, kind, description)
	switch outcome {
	case ledger.DebitOK:
		result.CreditsRemaining = user.Credits - cost
		o.collector.RecordCreditsCharged(cost)
	case ledger.DebitInsufficient:
		// 事前チェック後に他の生成が残高を使い切った稀なケース。
		// 成果物は既に生成済みなので未精算として配信する。
		result.Unreconciled = true
		result.CreditsRemaining = user.Credits
		o.collector.RecordDebitUnreconciled()
		o.logger.Warn("balance exhausted between pre-check and debit",
			slog.String("user_id", req.UserID),
			slog.String("session_id", result.SessionID),
		)
	case ledger.DebitError:
		result.Unreconciled = true
		result.CreditsRemaining = user.Credits
		o.collector.RecordDebitUnreconciled()
		o.logger.Error("debit failed after retries, delivering unreconciled",
			slog.String("user_id", req.UserID),
			slog.String("session_id", result.SessionID),
			slog.Int("amount", cost),
			slog.String("error", errString(err)),
		)
	}

	v, err := o.versionSvc.Append(ctx, req.UserID, result.SessionID, result.HTML, req.Prompt)
	if err != nil {
		result.PersistenceDegraded = true
		o.collector.RecordPersistenceDegraded()
		o.logger.Error("version append failed after debit",
			slog.String("user_id", req.UserID),
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()),
		)
	} else {
		result.VersionNumber = v.VersionNumber
	}

	session := o.loadOrNewSession(ctx, req.UserID, result.SessionID)
	session.SuggestedTitle = result.SuggestedTitle
	session.SuggestedDescription = result.SuggestedDescription
	studio.AppendExchange(session, req.Prompt, result.Message, result.HTML, result.VersionNumber)
	if err := o.studioSvc.SaveNow(ctx, session); err != nil {
		result.PersistenceDegraded = true
		o.collector.RecordPersistenceDegraded()
		o.logger.Error("studio session save failed after debit",
			slog.String("user_id", req.UserID),
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()),
		)
	}

	if !isIteration {
		// 表示用カウンタの更新。課金には影響しないのでベストエフォート。
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.userRepo.IncrementGamesCreated(ctx, req.UserID); err != nil {
				o.logger.Warn("games_created increment failed",
					slog.String("user_id", req.UserID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

func (o *Orchestrator) loadOrNewSession(ctx context.Context, userID, sessionID string) *model.StudioSession {
	session, err := o.studioSvc.Get(ctx, userID, sessionID)
	if err != nil || session == nil {
		now := time.Now()
		return &model.StudioSession{
			UserID:    userID,
			SessionID: sessionID,
			IsActive:  true,
			CreatedAt: now,
		}
	}
	return session
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
