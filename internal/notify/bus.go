// Package notify implements the Notification Bus (spec §4.H): delivery
// of user-directed messages to live sessions and/or the catalog, plus a
// second routing mode for "everyone currently watching media X".
package notify

import (
	"fmt"
	"sync"

	"github.com/buulam/clapshot/internal/catalog"
)

// Session is anything that can receive an outbound message — typically
// a live WebSocket connection owned by the (out-of-scope) API layer.
type Session interface {
	Send(OutboundMessage) error
}

// OutboundMessage is what a live session actually receives.
type OutboundMessage struct {
	EventName catalog.EventType
	MediaId   *string
	CommentId *int64
	Message   string
	Details   string
}

// Message is what a caller publishes to the Bus.
type Message struct {
	Topic     string
	EventName catalog.EventType
	UserId    string
	MediaId   *string
	CommentId *int64
	Msg       string
	Details   string
	Persist   bool
}

// Bus fans messages out to live sessions and, when requested, persists
// them to the catalog for later replay.
type Bus struct {
	store *catalog.Store

	mu        sync.RWMutex
	byUser    map[string]map[string]Session // userId -> sessionId -> Session
	byMediaId map[string]map[string]Session // mediaId -> sessionId -> Session (viewers of a media file)
	muted     map[string]bool
}

// New creates a Bus backed by store. store may be nil, in which case
// Persist is a no-op (useful for tests that only exercise live delivery).
func New(store *catalog.Store) *Bus {
	return &Bus{
		store:     store,
		byUser:    make(map[string]map[string]Session),
		byMediaId: make(map[string]map[string]Session),
		muted:     make(map[string]bool),
	}
}

// Mute suppresses delivery (live and persisted) of messages tagged with
// any of the given topics (spec §6 CLI: --mute TOPIC).
func (b *Bus) Mute(topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.muted[t] = true
	}
}

// RegisterSession attaches a live session for userId, identified by
// sessionId, so it can receive pushes until UnregisterSession is called.
func (b *Bus) RegisterSession(userId, sessionId string, s Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byUser[userId] == nil {
		b.byUser[userId] = make(map[string]Session)
	}
	b.byUser[userId][sessionId] = s
}

// UnregisterSession removes a session from both the per-user index and
// every per-media-file viewer index it was a member of.
func (b *Bus) UnregisterSession(userId, sessionId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byUser[userId], sessionId)
	if len(b.byUser[userId]) == 0 {
		delete(b.byUser, userId)
	}
	for mediaId, sessions := range b.byMediaId {
		delete(sessions, sessionId)
		if len(sessions) == 0 {
			delete(b.byMediaId, mediaId)
		}
	}
}

// WatchMedia marks sessionId as currently viewing mediaId, making it a
// target of BroadcastToViewers.
func (b *Bus) WatchMedia(mediaId, sessionId string, s Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byMediaId[mediaId] == nil {
		b.byMediaId[mediaId] = make(map[string]Session)
	}
	b.byMediaId[mediaId][sessionId] = s
}

// UnwatchMedia removes sessionId from mediaId's viewer set.
func (b *Bus) UnwatchMedia(mediaId, sessionId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byMediaId[mediaId], sessionId)
}

func (b *Bus) isMuted(topic string) bool {
	if topic == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.muted[topic]
}

// Publish delivers msg to userId's live sessions, if any, and persists
// it to the catalog if msg.Persist is set.
func (b *Bus) Publish(msg Message) error {
	if b.isMuted(msg.Topic) {
		return nil
	}

	out := OutboundMessage{
		EventName: msg.EventName,
		MediaId:   msg.MediaId,
		CommentId: msg.CommentId,
		Message:   msg.Msg,
		Details:   msg.Details,
	}

	b.mu.RLock()
	sessions := make([]Session, 0, len(b.byUser[msg.UserId]))
	for _, s := range b.byUser[msg.UserId] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		_ = s.Send(out)
	}

	if msg.Persist {
		return b.persist(msg)
	}
	return nil
}

func (b *Bus) persist(msg Message) error {
	if b.store == nil {
		return nil
	}
	row := &catalog.UserMessage{
		UserId:      msg.UserId,
		EventName:   msg.EventName,
		MediaFileId: msg.MediaId,
		CommentId:   msg.CommentId,
		Message:     msg.Msg,
		Details:     msg.Details,
		Seen:        len(b.liveSessionsFor(msg.UserId)) > 0,
	}
	if err := b.store.InsertUserMessage(row); err != nil {
		return fmt.Errorf("notify: persist message: %w", err)
	}
	return nil
}

func (b *Bus) liveSessionsFor(userId string) map[string]Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byUser[userId]
}

// BroadcastToViewers delivers msg to every session currently watching
// mediaId (spec §4.H's second routing mode, used for comment broadcast).
// It never persists, regardless of msg.Persist.
func (b *Bus) BroadcastToViewers(mediaId string, msg Message) {
	if b.isMuted(msg.Topic) {
		return
	}
	out := OutboundMessage{
		EventName: msg.EventName,
		MediaId:   &mediaId,
		CommentId: msg.CommentId,
		Message:   msg.Msg,
		Details:   msg.Details,
	}

	b.mu.RLock()
	sessions := make([]Session, 0, len(b.byMediaId[mediaId]))
	for _, s := range b.byMediaId[mediaId] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		_ = s.Send(out)
	}
}

// ReplayUnseen is called on login: it delivers every unseen persistent
// message for userId to its (just-registered) live sessions and marks
// them seen (P8).
func (b *Bus) ReplayUnseen(userId string) error {
	if b.store == nil {
		return nil
	}
	unseen, err := b.store.GetUnseenUserMessages(userId)
	if err != nil {
		return fmt.Errorf("notify: load unseen messages: %w", err)
	}
	if len(unseen) == 0 {
		return nil
	}

	sessions := b.liveSessionsFor(userId)
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(unseen))
	for _, m := range unseen {
		out := OutboundMessage{
			EventName: m.EventName,
			MediaId:   m.MediaFileId,
			CommentId: m.CommentId,
			Message:   m.Message,
			Details:   m.Details,
		}
		for _, s := range sessions {
			_ = s.Send(out)
		}
		ids = append(ids, m.Id)
	}
	return b.store.MarkMessagesSeen(ids)
}
