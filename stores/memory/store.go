package memory

import (
	"sync"
	"time"

	"collab-server/core"
)

// Store keeps presence, edits, comments and a seedable directory in process memory.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	presence map[core.ResourceKey]map[string]core.Session
	edits    map[core.ResourceKey][]core.EditRecord

	users     map[string]core.UserIdentity
	members   map[string]map[string]string // workspace -> user -> role
	pages     map[string]string
	databases map[string]string
	boards    map[string]string // board -> workspace
	tasks     map[string]string // task -> board
	comments  []core.Comment
	reactions []core.Reaction
}

func NewStore() *Store {
	return &Store{
		now:       time.Now,
		presence:  make(map[core.ResourceKey]map[string]core.Session),
		edits:     make(map[core.ResourceKey][]core.EditRecord),
		users:     make(map[string]core.UserIdentity),
		members:   make(map[string]map[string]string),
		pages:     make(map[string]string),
		databases: make(map[string]string),
		boards:    make(map[string]string),
		tasks:     make(map[string]string),
	}
}
