package eventbus

import (
	"sync"
	"time"

	"github.com/spaghettifunk/vixen/engine/containers"
	"github.com/spaghettifunk/vixen/engine/core"
)

// SubscriptionID identifies a registration on the bus. Monotonically issued,
// never reused.
type SubscriptionID uint32

// MessageHandler processes one message. Returning true marks the message
// handled and stops propagation to later subscribers.
type MessageHandler func(msg *Message) bool

type filterMode uint8

const (
	filterAll filterMode = iota
	filterType
	filterCategory
)

type subscription struct {
	id             SubscriptionID
	mode           filterMode
	messageType    MessageType
	categoryFilter CategoryFlags
	handler        MessageHandler
}

// Stats is a snapshot of bus counters.
type Stats struct {
	TotalPublished       uint64
	TotalProcessed       uint64
	CurrentQueueSize     int
	PublishedByType      map[MessageType]uint64
	TypeFilterHits       uint64
	CategoryFilterHits   uint64
	MaxQueueSizeReached  int
	QueueGrowthCount     int
	CapacityWarningCount uint32
}

// MessageBus is a multi-threaded-publish, single-threaded-dispatch bus.
// Publish is safe from worker goroutines; ProcessMessages must run on the
// dispatch goroutine once per frame. None of the three internal locks is
// ever held across a user callback.
type MessageBus struct {
	queue      *containers.RingQueue[*Message]
	queueMutex sync.Mutex

	subscriptions     []*subscription
	typeIndex         map[MessageType][]*subscription
	categoryIndex     map[CategoryFlags][]*subscription
	allSubscribers    []*subscription
	nextID            SubscriptionID
	subscriptionMutex sync.Mutex

	stats      Stats
	statsMutex sync.Mutex

	expectedCapacity int
	warningThreshold int
	warningLogged    bool
}

const defaultExpectedCapacity = 1024

func NewMessageBus() *MessageBus {
	mb := &MessageBus{
		queue:         containers.NewRingQueue[*Message](defaultExpectedCapacity),
		typeIndex:     make(map[MessageType][]*subscription),
		categoryIndex: make(map[CategoryFlags][]*subscription),
		nextID:        1,
	}
	mb.stats.PublishedByType = make(map[MessageType]uint64)
	mb.setExpectedCapacityLocked(defaultExpectedCapacity)
	return mb
}

// Subscribe registers a handler for a single message type.
func (mb *MessageBus) Subscribe(messageType MessageType, handler MessageHandler) SubscriptionID {
	return mb.addSubscription(&subscription{
		mode:        filterType,
		messageType: messageType,
		handler:     handler,
	})
}

// SubscribeAll registers a handler for every message.
func (mb *MessageBus) SubscribeAll(handler MessageHandler) SubscriptionID {
	return mb.addSubscription(&subscription{
		mode:    filterAll,
		handler: handler,
	})
}

// SubscribeCategory registers a handler for one category flag.
func (mb *MessageBus) SubscribeCategory(category CategoryFlags, handler MessageHandler) SubscriptionID {
	return mb.addSubscription(&subscription{
		mode:           filterCategory,
		categoryFilter: category,
		handler:        handler,
	})
}

// SubscribeCategories registers a handler for a mask of category flags.
// The handler fires when any flag in the mask matches.
func (mb *MessageBus) SubscribeCategories(categories CategoryFlags, handler MessageHandler) SubscriptionID {
	return mb.addSubscription(&subscription{
		mode:           filterCategory,
		categoryFilter: categories,
		handler:        handler,
	})
}

func (mb *MessageBus) addSubscription(sub *subscription) SubscriptionID {
	mb.subscriptionMutex.Lock()
	defer mb.subscriptionMutex.Unlock()

	sub.id = mb.nextID
	mb.nextID++
	mb.subscriptions = append(mb.subscriptions, sub)

	switch sub.mode {
	case filterAll:
		mb.allSubscribers = append(mb.allSubscribers, sub)
	case filterType:
		mb.typeIndex[sub.messageType] = append(mb.typeIndex[sub.messageType], sub)
	case filterCategory:
		// Index per individual bit so dispatch stays O(1) per category.
		for bit := CategoryFlags(1); bit != 0; bit <<= 1 {
			if sub.categoryFilter&bit != 0 {
				mb.categoryIndex[bit] = append(mb.categoryIndex[bit], sub)
			}
		}
	}
	return sub.id
}

// Unsubscribe removes a registration. Unknown ids are ignored.
func (mb *MessageBus) Unsubscribe(id SubscriptionID) {
	mb.subscriptionMutex.Lock()
	defer mb.subscriptionMutex.Unlock()

	idx := -1
	for i, sub := range mb.subscriptions {
		if sub.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	sub := mb.subscriptions[idx]
	mb.subscriptions = append(mb.subscriptions[:idx], mb.subscriptions[idx+1:]...)

	removeFrom := func(list []*subscription) []*subscription {
		for i, s := range list {
			if s == sub {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	}
	mb.allSubscribers = removeFrom(mb.allSubscribers)
	for t, list := range mb.typeIndex {
		mb.typeIndex[t] = removeFrom(list)
	}
	for c, list := range mb.categoryIndex {
		mb.categoryIndex[c] = removeFrom(list)
	}
}

// UnsubscribeAll drops every registration.
func (mb *MessageBus) UnsubscribeAll() {
	mb.subscriptionMutex.Lock()
	defer mb.subscriptionMutex.Unlock()
	mb.subscriptions = nil
	mb.allSubscribers = nil
	mb.typeIndex = make(map[MessageType][]*subscription)
	mb.categoryIndex = make(map[CategoryFlags][]*subscription)
}

// Publish takes ownership of the message and enqueues it for the next
// ProcessMessages call. Safe to call from any goroutine.
func (mb *MessageBus) Publish(msg *Message) {
	if msg == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	mb.queueMutex.Lock()
	_ = mb.queue.Enqueue(msg)
	size := mb.queue.Size()
	mb.queueMutex.Unlock()

	mb.statsMutex.Lock()
	mb.stats.TotalPublished++
	mb.stats.PublishedByType[msg.Type]++
	if size > mb.stats.MaxQueueSizeReached {
		mb.stats.MaxQueueSizeReached = size
	}
	warn := mb.warningThreshold > 0 && size >= mb.warningThreshold && !mb.warningLogged
	if warn {
		mb.warningLogged = true
		mb.stats.CapacityWarningCount++
	}
	mb.statsMutex.Unlock()

	if warn {
		core.LogWarn("message bus queue at %d/%d (80%% of expected capacity); consider a larger Reserve", size, mb.expectedCapacity)
	}
}

// PublishImmediate bypasses the queue and dispatches synchronously on the
// calling goroutine.
func (mb *MessageBus) PublishImmediate(msg *Message) {
	if msg == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	mb.statsMutex.Lock()
	mb.stats.TotalPublished++
	mb.stats.PublishedByType[msg.Type]++
	mb.statsMutex.Unlock()

	mb.dispatch(msg)
}

// ProcessMessages drains the queue in FIFO order. Call once per frame on
// the dispatch goroutine. The queue is swapped to a local under the lock so
// publishers are never blocked by handler execution.
func (mb *MessageBus) ProcessMessages() {
	local := containers.NewRingQueue[*Message](0)

	mb.queueMutex.Lock()
	mb.queue.Swap(local)
	mb.queue.SetAllowGrowth(local.AllowGrowth())
	mb.queue.Reserve(local.Capacity())
	mb.queueMutex.Unlock()

	processed := uint64(0)
	for !local.IsEmpty() {
		msg, err := local.Dequeue()
		if err != nil {
			break
		}
		mb.dispatch(msg)
		processed++
	}

	if processed > 0 {
		mb.statsMutex.Lock()
		mb.stats.TotalProcessed += processed
		mb.statsMutex.Unlock()
	}
}

func (mb *MessageBus) dispatch(msg *Message) {
	// Snapshot the matching handlers under the lock, invoke outside it.
	mb.subscriptionMutex.Lock()
	var matched []*subscription
	matched = append(matched, mb.allSubscribers...)
	typeHits := 0
	if subs, ok := mb.typeIndex[msg.Type]; ok {
		matched = append(matched, subs...)
		typeHits = len(subs)
	}
	categoryHits := 0
	seen := map[SubscriptionID]bool{}
	for _, sub := range matched {
		seen[sub.id] = true
	}
	for bit := CategoryFlags(1); bit != 0; bit <<= 1 {
		if msg.CategoryFlags&bit == 0 {
			continue
		}
		for _, sub := range mb.categoryIndex[bit] {
			if !seen[sub.id] {
				seen[sub.id] = true
				matched = append(matched, sub)
				categoryHits++
			}
		}
	}
	mb.subscriptionMutex.Unlock()

	if typeHits > 0 || categoryHits > 0 {
		mb.statsMutex.Lock()
		mb.stats.TypeFilterHits += uint64(typeHits)
		mb.stats.CategoryFilterHits += uint64(categoryHits)
		mb.statsMutex.Unlock()
	}

	for _, sub := range matched {
		if sub.handler(msg) {
			// Handled; do not send to other listeners.
			break
		}
	}
}

// ClearQueue drops pending messages without dispatching them.
func (mb *MessageBus) ClearQueue() {
	mb.queueMutex.Lock()
	mb.queue.Clear()
	mb.queueMutex.Unlock()
}

// QueuedCount is the number of messages awaiting ProcessMessages.
func (mb *MessageBus) QueuedCount() int {
	mb.queueMutex.Lock()
	defer mb.queueMutex.Unlock()
	return mb.queue.Size()
}

// Reserve pre-allocates queue capacity so steady-state publishing never
// grows the ring.
func (mb *MessageBus) Reserve(capacity int) {
	mb.queueMutex.Lock()
	mb.queue.Reserve(capacity)
	mb.queueMutex.Unlock()
}

// QueueCapacity is the ring's current allocated capacity.
func (mb *MessageBus) QueueCapacity() int {
	mb.queueMutex.Lock()
	defer mb.queueMutex.Unlock()
	return mb.queue.Capacity()
}

// QueueGrowthCount reports auto-grow events; non-zero after setup means the
// Reserve was undersized.
func (mb *MessageBus) QueueGrowthCount() int {
	mb.queueMutex.Lock()
	defer mb.queueMutex.Unlock()
	return mb.queue.GrowthCount()
}

// SetExpectedCapacity sets the capacity used for the one-shot 80% warning.
func (mb *MessageBus) SetExpectedCapacity(capacity int) {
	mb.statsMutex.Lock()
	mb.setExpectedCapacityLocked(capacity)
	mb.statsMutex.Unlock()
}

func (mb *MessageBus) setExpectedCapacityLocked(capacity int) {
	mb.expectedCapacity = capacity
	mb.warningThreshold = capacity * 8 / 10
	mb.warningLogged = false
}

// GetStats returns a snapshot of the counters.
func (mb *MessageBus) GetStats() Stats {
	mb.statsMutex.Lock()
	defer mb.statsMutex.Unlock()

	snapshot := mb.stats
	snapshot.PublishedByType = make(map[MessageType]uint64, len(mb.stats.PublishedByType))
	for t, n := range mb.stats.PublishedByType {
		snapshot.PublishedByType[t] = n
	}

	mb.queueMutex.Lock()
	snapshot.CurrentQueueSize = mb.queue.Size()
	snapshot.QueueGrowthCount = mb.queue.GrowthCount()
	if mb.queue.MaxSizeReached() > snapshot.MaxQueueSizeReached {
		snapshot.MaxQueueSizeReached = mb.queue.MaxSizeReached()
	}
	mb.queueMutex.Unlock()

	return snapshot
}

// ResetStats zeroes the counters and re-arms the capacity warning.
func (mb *MessageBus) ResetStats() {
	mb.statsMutex.Lock()
	mb.stats = Stats{PublishedByType: make(map[MessageType]uint64)}
	mb.warningLogged = false
	mb.statsMutex.Unlock()

	mb.queueMutex.Lock()
	mb.queue.ResetStats()
	mb.queueMutex.Unlock()
}
