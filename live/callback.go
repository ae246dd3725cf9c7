package live

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so notify loops iterate a stable
// snapshot without holding the lock
type CallbackList[T any] struct {
	stateLock      sync.Mutex
	nextCallbackId int
	entries        []callbackEntry[T]
}

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextEntries := slices.Clone(self.entries)
	nextEntries = append(nextEntries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.entries = nextEntries
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.DeleteFunc(nextEntries, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	self.entries = nextEntries
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.entries))
	for _, entry := range self.entries {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}
