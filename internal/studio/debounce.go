package studio

import (
	"sync"
	"time"

	"github.com/hitoshi/playable/internal/model"
)

// Debouncer はセッション単位で書き込みをまとめる。
// 静止時間内に同じセッションへのScheduleが続いた場合、タイマーを
// 再装填して最後の状態だけをコミットする。
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingWrite
	window  time.Duration
	commit  func(*model.StudioSession)
}

type pendingWrite struct {
	session *model.StudioSession
	timer   *time.Timer
}

// NewDebouncer はDebouncerを生成する。windowが0以下の場合、Scheduleは
// 即時にコミットする。
func NewDebouncer(window time.Duration, commit func(*model.StudioSession)) *Debouncer {
	return &Debouncer{
		pending: make(map[string]*pendingWrite),
		window:  window,
		commit:  commit,
	}
}

func writeKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

// Schedule はセッションの書き込みを予約する。既に予約がある場合は
// 状態を差し替えてタイマーを再装填する。
func (d *Debouncer) Schedule(session *model.StudioSession) {
	if d.window <= 0 {
		d.commit(session)
		return
	}

	key := writeKey(session.UserID, session.SessionID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.session = session
		p.timer.Reset(d.window)
		return
	}

	p := &pendingWrite{session: session}
	p.timer = time.AfterFunc(d.window, func() {
		d.fire(key)
	})
	d.pending[key] = p
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		d.commit(p.session)
	}
}

// Cancel は指定セッションの予約を破棄する。予約がなければ何もしない。
func (d *Debouncer) Cancel(userID, sessionID string) {
	key := writeKey(userID, sessionID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Flush は指定セッションの予約を即時にコミットする。
func (d *Debouncer) Flush(userID, sessionID string) {
	key := writeKey(userID, sessionID)

	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		d.commit(p.session)
	}
}

// FlushAll は全セッションの予約を即時にコミットする。
func (d *Debouncer) FlushAll() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]*pendingWrite)
	d.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		d.commit(p.session)
	}
}
