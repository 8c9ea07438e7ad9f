// Package terminal holds the per-terminal in-memory state (spec.md §4.7),
// the cross-process ownership lock (§4.8), the shared advisory registry
// (§4.9), and WAL-driven recovery (§4.6).
package terminal

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/txn"
)

// Session is an operator's open session on a terminal. A session owns zero
// or more transactions, tracked by SessionID in the Store's bySession
// index.
type Session struct {
	SessionID  string
	OperatorID string
	Closed     bool
}

// Store holds one terminal's live sessions and transactions (spec.md
// §4.7). All mutations go through a single owner — the Kernel's write
// lock — so Store itself does no internal locking; it is not safe for
// unsynchronized concurrent use, by design (spec.md §5).
type Store struct {
	sessions     map[string]*Session
	transactions map[string]*txn.Transaction
	bySession    map[string]mapset.Set[string]
}

// NewStore returns an empty terminal store.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		transactions: make(map[string]*txn.Transaction),
		bySession:    make(map[string]mapset.Set[string]),
	}
}

func (s *Store) PutSession(sess *Session) {
	s.sessions[sess.SessionID] = sess
	if _, ok := s.bySession[sess.SessionID]; !ok {
		s.bySession[sess.SessionID] = mapset.NewSet[string]()
	}
}

func (s *Store) Session(sessionID string) (*Session, bool) {
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

func (s *Store) CloseSession(sessionID string) error {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return kernelerr.New(kernelerr.SessionNotFound, "session not found")
	}
	for _, txID := range s.bySession[sessionID].ToSlice() {
		tx, ok := s.transactions[txID]
		if ok && tx.State == txn.Building {
			return kernelerr.New(kernelerr.SessionBusy, "session has a transaction still building")
		}
	}
	sess.Closed = true
	return nil
}

func (s *Store) PutTransaction(tx *txn.Transaction) {
	s.transactions[tx.TransactionID] = tx
	set, ok := s.bySession[tx.SessionID]
	if !ok {
		set = mapset.NewSet[string]()
		s.bySession[tx.SessionID] = set
	}
	set.Add(tx.TransactionID)
}

func (s *Store) Transaction(txID string) (*txn.Transaction, bool) {
	tx, ok := s.transactions[txID]
	return tx, ok
}

// TransactionsForSession returns every transaction ID opened under a
// session, in no particular order (the caller sorts if it needs one).
func (s *Store) TransactionsForSession(sessionID string) []string {
	set, ok := s.bySession[sessionID]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// AllSessions returns every session this store holds, in no particular
// order. Used by operator tooling (the recover CLI's summary report),
// never by the live RequestSurface.
func (s *Store) AllSessions() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// AllTransactions returns every transaction this store holds, in no
// particular order. Used by operator tooling (the recover CLI's summary
// report) and by kernel.Open to count recovered open transactions; no
// RequestSurface operation calls it.
func (s *Store) AllTransactions() []*txn.Transaction {
	out := make([]*txn.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, tx)
	}
	return out
}
