package room

import (
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type member struct {
	key  domain.BoardKey
	user string
	sub  Subscriber
}

// Registry maps connections to rooms and keeps room presence up to date.
// A connection is in at most one room. Rooms exist only while they have members.
type Registry struct {
	hub    *Hub
	logger *log.Logger

	mu      sync.Mutex
	members map[string]*member
	rooms   map[domain.BoardKey]map[string]*member
}

// NewRegistry creates a registry that broadcasts presence through hub.
func NewRegistry(hub *Hub, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		hub:     hub,
		logger:  logger,
		members: make(map[string]*member),
		rooms:   make(map[domain.BoardKey]map[string]*member),
	}
}

// Join puts conn into the room for key under the given username. A connection
// already in another room leaves it first. Joining the same room again only
// refreshes the username.
func (r *Registry) Join(conn Subscriber, user string, key domain.BoardKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return domain.Invalid("user is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if m, ok := r.members[id]; ok {
		if m.key == key {
			m.user = user
			m.sub = conn
			r.broadcastLocked(key)
			return nil
		}
		r.leaveLocked(id)
	}

	m := &member{key: key, user: user, sub: conn}
	r.members[id] = m
	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]*member)
		r.rooms[key] = room
	}
	room[id] = m
	r.hub.Subscribe(key, conn)
	r.logger.WithFields(log.Fields{"board": key.String(), "conn": id, "user": user}).Debug("joined room")
	r.broadcastLocked(key)
	return nil
}

// Leave removes conn from its room. It is a no-op for connections that are
// not in a room, so it is safe on every disconnect path.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID string) {
	m, ok := r.members[connID]
	if !ok {
		return
	}
	delete(r.members, connID)
	r.hub.Unsubscribe(m.key, m.sub)
	room := r.rooms[m.key]
	delete(room, connID)
	r.logger.WithFields(log.Fields{"board": m.key.String(), "conn": connID, "user": m.user}).Debug("left room")
	if len(room) == 0 {
		delete(r.rooms, m.key)
		return
	}
	r.broadcastLocked(m.key)
}

// RoomOf returns the key of the room conn is in.
func (r *Registry) RoomOf(connID string) (domain.BoardKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok {
		return domain.BoardKey{}, false
	}
	return m.key, true
}

// Presence returns the sorted distinct usernames in the room for key.
func (r *Registry) Presence(key domain.BoardKey) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceLocked(key)
}

// Rooms returns the keys of all non-empty rooms.
func (r *Registry) Rooms() []domain.BoardKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]domain.BoardKey, 0, len(r.rooms))
	for k := range r.rooms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Members returns the connection ids in the room for key.
func (r *Registry) Members(key domain.BoardKey) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms[key]))
	for id := range r.rooms[key] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) presenceLocked(key domain.BoardKey) []string {
	seen := make(map[string]struct{})
	users := []string{}
	for _, m := range r.rooms[key] {
		if _, ok := seen[m.user]; ok {
			continue
		}
		seen[m.user] = struct{}{}
		users = append(users, m.user)
	}
	sort.Strings(users)
	return users
}

// broadcastLocked must run under r.mu so presence messages follow the
// join and leave order that produced them.
func (r *Registry) broadcastLocked(key domain.BoardKey) {
	data, err := sonic.Marshal(domain.NewUserList(key, r.presenceLocked(key)))
	if err != nil {
		r.logger.WithError(err).WithField("board", key.String()).Error("encode user list")
		return
	}
	r.hub.Publish(key, data)
}
