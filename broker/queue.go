// Copyright 2026 The Entrabridge Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// outcome is the settled result of one pending call.
type outcome struct {
	payload json.RawMessage
	err     error
}

// pendingCall is one outstanding RPC awaiting its response. The done
// channel has capacity 1 so settling never blocks the read loop.
type pendingCall struct {
	command string
	done    chan outcome
}

// handlerQueue correlates responses to pending calls by command name.
// Responses carry no unique ID, so matching is per-command FIFO: the
// oldest pending call for a name is settled by the next response
// carrying that name. Registration order therefore equals settlement
// order for concurrent same-command calls.
type handlerQueue struct {
	mu     sync.Mutex
	calls  []*pendingCall
	logger *slog.Logger
}

func newHandlerQueue(logger *slog.Logger) *handlerQueue {
	return &handlerQueue{logger: logger}
}

// register appends a pending call for command and returns its handle.
func (q *handlerQueue) register(command string) *pendingCall {
	call := &pendingCall{
		command: command,
		done:    make(chan outcome, 1),
	}
	q.mu.Lock()
	q.calls = append(q.calls, call)
	q.mu.Unlock()
	return call
}

// resolve settles the oldest pending call for command with payload.
// A response with no matching call is a stray or duplicate broker
// message: logged, dropped, not fatal.
func (q *handlerQueue) resolve(command string, payload json.RawMessage) {
	call := q.takeOldest(command)
	if call == nil {
		q.logger.Warn("response with no pending call", "command", command)
		return
	}
	call.done <- outcome{payload: payload}
}

// reject settles the oldest pending call for command with err.
func (q *handlerQueue) reject(command string, err error) {
	call := q.takeOldest(command)
	if call == nil {
		q.logger.Warn("error response with no pending call", "command", command, "error", err)
		return
	}
	call.done <- outcome{err: err}
}

// rejectAll settles every pending call with err, in registration
// order. Called on disconnect so no caller waits forever on a channel
// that can no longer deliver.
func (q *handlerQueue) rejectAll(err error) {
	q.mu.Lock()
	calls := q.calls
	q.calls = nil
	q.mu.Unlock()

	for _, call := range calls {
		call.done <- outcome{err: err}
	}
}

// remove unregisters an abandoned call (caller gave up waiting, e.g.
// context cancellation). Returns false when the call was already
// settled or removed. Without this, a response for a later same-named
// call would settle the abandoned one and starve the live one.
func (q *handlerQueue) remove(call *pendingCall) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.calls {
		if candidate == call {
			q.calls = append(q.calls[:i], q.calls[i+1:]...)
			return true
		}
	}
	return false
}

// takeOldest removes and returns the oldest pending call for command,
// or nil when none is pending.
func (q *handlerQueue) takeOldest(command string) *pendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, call := range q.calls {
		if call.command == command {
			q.calls = append(q.calls[:i], q.calls[i+1:]...)
			return call
		}
	}
	return nil
}

// depth reports the number of pending calls. Used by tests and the
// disconnect log line.
func (q *handlerQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}
