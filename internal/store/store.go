// Package store holds the process-lived, in-memory state of the proxy:
// the append-only request log and the per-request context sequences fed
// by /_chopin/report-context. Per spec §9, per-structure locks are
// preferred over one global lock so /_chopin/logs reads never block the
// serialization queue.
package store

import (
	"sync"
	"time"
)

// Response is the recorded target response on a LogEntry, set once
// forwarding succeeds.
type Response struct {
	Status     int                 `json:"status"`
	StatusText string              `json:"statusText"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body"`
}

// LogEntry records one queued (mutating) request end to end. It is
// created before the target is contacted and completed exactly once,
// either with Response or ResponseError, after which it is immutable
// except for the Contexts field computed at read time.
type LogEntry struct {
	RequestID     string              `json:"requestId"`
	Method        string              `json:"method"`
	URL           string              `json:"url"`
	Headers       map[string][]string `json:"headers"`
	Body          string              `json:"body"`
	Timestamp     time.Time           `json:"timestamp"`
	Response      *Response           `json:"response,omitempty"`
	ResponseError string              `json:"responseError,omitempty"`
	Contexts      []string            `json:"contexts"`
}

// Store is the process-wide holder of LogEntry history and context
// sequences. Zero value is unusable; use New.
type Store struct {
	logMu sync.RWMutex
	logs  []*LogEntry

	ctxMu    sync.RWMutex
	contexts map[string][][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		contexts: make(map[string][][]byte),
	}
}

// CreateContext opens an empty, append-only context sequence for
// requestID. Called at queue admission (spec §3: "created at the moment
// the queue assigns a RequestId"), before the LogEntry itself exists.
func (s *Store) CreateContext(requestID string) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.contexts[requestID] = [][]byte{}
}

// AppendContext appends data to requestID's context sequence. Returns
// false if no sequence exists for requestID (the caller should respond
// 404, per spec §4.2). Late appends — after the originating request has
// completed — are accepted for the remainder of the process lifetime;
// this is the explicit open-question resolution from spec §9.
func (s *Store) AppendContext(requestID string, data []byte) bool {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()

	seq, ok := s.contexts[requestID]
	if !ok {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.contexts[requestID] = append(seq, cp)
	return true
}

// HasContext reports whether a context sequence exists for requestID.
func (s *Store) HasContext(requestID string) bool {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	_, ok := s.contexts[requestID]
	return ok
}

// ContextLen returns the current length of requestID's context
// sequence, for logging the running total after an append.
func (s *Store) ContextLen(requestID string) int {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return len(s.contexts[requestID])
}

// contextsFor returns a copy of requestID's context sequence as strings,
// in append order. Used to populate LogEntry.Contexts at read time.
func (s *Store) contextsFor(requestID string) []string {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()

	seq := s.contexts[requestID]
	out := make([]string, len(seq))
	for i, b := range seq {
		out[i] = string(b)
	}
	return out
}

// AppendLog appends entry to the ordered log list. The caller owns
// entry until this call returns; Store does not retain the pointer
// beyond what's needed to serve reads.
func (s *Store) AppendLog(entry *LogEntry) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.logs = append(s.logs, entry)
}

// Logs returns a snapshot of the log list with each entry's Contexts
// populated from the current context store, satisfying the
// read-consistent-snapshot requirement of spec §5.
func (s *Store) Logs() []*LogEntry {
	s.logMu.RLock()
	defer s.logMu.RUnlock()

	out := make([]*LogEntry, len(s.logs))
	for i, e := range s.logs {
		cp := *e
		cp.Contexts = s.contextsFor(e.RequestID)
		out[i] = &cp
	}
	return out
}
