package conn

import (
	"fmt"
	"sync"

	"github.com/epokhe/kvresp/internal/command"
	"github.com/epokhe/kvresp/internal/engine"
	"github.com/epokhe/kvresp/internal/resp"
)

// SharedStore wraps the single log store in a mutex held for the entire
// duration of one command's execution, the only shared mutable resource
// between connection handlers (spec: one coarse mutex around the store is
// correct and acceptable).
type SharedStore struct {
	mu    sync.Mutex
	store *engine.Store
}

// NewSharedStore wraps store for concurrent use by connection handlers.
func NewSharedStore(store *engine.Store) *SharedStore {
	return &SharedStore{store: store}
}

// Execute runs cmd against the store under the shared lock and builds the
// reply frame for it, per the command/result table:
//
//	SET/UPDATE: success -> Simple("OK"), failure -> Error(msg)
//	DELETE:     success -> Simple("OK") even for a missing key, failure -> Error(msg)
//	GET:        hit -> Bulk(value), miss -> Null, failure -> Error(msg)
func (s *SharedStore) Execute(cmd command.Command) resp.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case command.Get:
		val, ok, err := s.store.Get([]byte(cmd.Key))
		if err != nil {
			return resp.NewError(fmt.Sprintf("ERR %v", err))
		}
		if !ok {
			return resp.NewNull()
		}
		return resp.NewBulk(val)

	case command.Set:
		if err := s.store.Insert([]byte(cmd.Key), []byte(cmd.Value)); err != nil {
			return resp.NewError(fmt.Sprintf("ERR %v", err))
		}
		return resp.NewSimple("OK")

	case command.Update:
		if err := s.store.Update([]byte(cmd.Key), []byte(cmd.Value)); err != nil {
			return resp.NewError(fmt.Sprintf("ERR %v", err))
		}
		return resp.NewSimple("OK")

	case command.Delete:
		if err := s.store.Delete([]byte(cmd.Key)); err != nil {
			return resp.NewError(fmt.Sprintf("ERR %v", err))
		}
		return resp.NewSimple("OK")

	default:
		return resp.NewError(fmt.Sprintf("ERR unhandled command kind %d", cmd.Kind))
	}
}
