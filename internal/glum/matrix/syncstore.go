package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/glum/internal/glum/session"
)

var _ mautrix.SyncStore = (*sessionSyncStore)(nil)

// sessionSyncStore keeps the sync token and filter id in the session store so
// a restart resumes where the last run stopped instead of replaying room
// history. Values are held in memory and reach disk when the session is
// saved.
type sessionSyncStore struct {
	session *session.Store
}

func newSessionSyncStore(s *session.Store) *sessionSyncStore {
	return &sessionSyncStore{session: s}
}

func (s *sessionSyncStore) SaveFilterID(_ context.Context, _ id.UserID, filterID string) error {
	s.session.Set(session.KeyFilterID, filterID)
	return nil
}

func (s *sessionSyncStore) LoadFilterID(_ context.Context, _ id.UserID) (string, error) {
	v, _ := s.session.Get(session.KeyFilterID)
	return v, nil
}

func (s *sessionSyncStore) SaveNextBatch(_ context.Context, _ id.UserID, nextBatchToken string) error {
	s.session.Set(session.KeyNextBatch, nextBatchToken)
	return nil
}

func (s *sessionSyncStore) LoadNextBatch(_ context.Context, _ id.UserID) (string, error) {
	v, _ := s.session.Get(session.KeyNextBatch)
	return v, nil
}
