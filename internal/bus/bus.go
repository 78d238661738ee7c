// Package bus: канал внутри процесса между ядром и теми, кто переводит его
// исходы для транспортов.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chatcore/internal/logger"
)

// Publisher: то, от чего зависит ядро.
type Publisher interface {
	Publish(evt Event)
}

// Bus: pub/sub с фильтром по пространству имён.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Uint64
}

type subscription struct {
	name      string
	namespace string
	ch        chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish отдаёт evt каждому подписчику, чей namespace является префиксом evt.Kind.
// Переполненный подписчик теряет событие: потеря логируется и считается,
// получатель догоняет состояние при следующем чтении.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			logger.Warnf("bus: subscriber %s full, dropped %s for conversation %s", sub.name, evt.Kind, evt.ConversationID)
		}
	}
}

// Subscribe возвращает канал событий namespace и функцию, которая отписывает
// и закрывает канал.
func (b *Bus) Subscribe(name, namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{name: name, namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped: сколько событий потеряно на переполненных подписчиках с запуска.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
