package service

import (
	"sync"
	"time"
)

// awaitTTL сколько ждём ответ на вопрос о значении настройки.
const awaitTTL = 5 * time.Minute

type pendingInput struct {
	key     string
	expires time.Time
}

// awaitStore какое значение настроек ждём от чата следующим сообщением.
// Просроченный вопрос забывается, следующее сообщение разбирается как обычное.
type awaitStore struct {
	mu      sync.Mutex
	pending map[int64]pendingInput
	now     func() time.Time
}

func newAwaitStore() *awaitStore {
	return &awaitStore{pending: make(map[int64]pendingInput), now: time.Now}
}

func (a *awaitStore) set(chatID int64, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[chatID] = pendingInput{key: key, expires: a.now().Add(awaitTTL)}
}

func (a *awaitStore) peek(chatID int64) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in, ok := a.pending[chatID]
	if !ok {
		return "", false
	}
	if a.now().After(in.expires) {
		delete(a.pending, chatID)
		return "", false
	}
	return in.key, true
}

func (a *awaitStore) clear(chatID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, chatID)
}

func (t *Telegram) setAwait(chatID int64, key string)     { t.await.set(chatID, key) }
func (t *Telegram) peekAwait(chatID int64) (string, bool) { return t.await.peek(chatID) }
func (t *Telegram) clearAwait(chatID int64)               { t.await.clear(chatID) }
