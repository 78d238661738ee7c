package access

import (
	"sync"
	"time"
)

type cacheKey struct {
	conversationID string
	userID         string
}

type cacheEntry struct {
	grant   Grant
	expires time.Time
}

// Cache хранит положительные решения доступа с коротким TTL.
// Отказы не кешируются: вступление в беседу действует сразу.
//
// Каждая беседа имеет поколение; инвалидация его увеличивает. Put с поколением,
// снятым до чтения из хранилища, отбрасывается, если между чтением и записью
// прошла инвалидация. Так проверка, прочитавшая старое членство, не вернёт его в кеш.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
	byConv  map[string]map[string]struct{}
	gens    map[string]uint64
}

func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[cacheKey]cacheEntry),
		byConv:  make(map[string]map[string]struct{}),
		gens:    make(map[string]uint64),
	}
}

func (c *Cache) Get(conversationID, userID string) (Grant, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey{conversationID, userID}]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return Grant{}, false
	}
	return e.grant, true
}

// Generation возвращает текущее поколение беседы; снимать до чтения из хранилища.
func (c *Cache) Generation(conversationID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[conversationID]
}

// Put сохраняет решение, если с момента gen беседа не инвалидировалась.
func (c *Cache) Put(conversationID, userID string, grant Grant, gen uint64) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[conversationID] != gen {
		return false
	}
	c.entries[cacheKey{conversationID, userID}] = cacheEntry{grant: grant, expires: c.now().Add(c.ttl)}
	users := c.byConv[conversationID]
	if users == nil {
		users = make(map[string]struct{})
		c.byConv[conversationID] = users
	}
	users[userID] = struct{}{}
	return true
}

// InvalidateMember сбрасывает запись одного участника (вступление, выход, кик, смена роли).
func (c *Cache) InvalidateMember(conversationID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[conversationID]++
	c.drop(cacheKey{conversationID, userID})
}

// InvalidateConversation сбрасывает все записи беседы (смена message_permission).
func (c *Cache) InvalidateConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[conversationID]++
	for userID := range c.byConv[conversationID] {
		delete(c.entries, cacheKey{conversationID, userID})
	}
	delete(c.byConv, conversationID)
}

// Sweep удаляет просроченные записи и возвращает их число.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			c.drop(k)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// drop вызывается под c.mu на запись.
func (c *Cache) drop(k cacheKey) {
	delete(c.entries, k)
	if users := c.byConv[k.conversationID]; users != nil {
		delete(users, k.userID)
		if len(users) == 0 {
			delete(c.byConv, k.conversationID)
		}
	}
}
