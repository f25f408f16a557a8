package chat

import (
	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
)

// Observer receives snapshots after the session state changed. Calls are
// made outside the session lock, possibly from the pump goroutine; an
// implementation must not block for long.
type Observer interface {
	OnState(State)
	OnMessages([]chatmodel.ChatMessage)
	OnFriends([]chatmodel.Friend)
	OnAlert(string)
}

type NopObserver struct{}

func (NopObserver) OnState(State)                      {}
func (NopObserver) OnMessages([]chatmodel.ChatMessage) {}
func (NopObserver) OnFriends([]chatmodel.Friend)       {}
func (NopObserver) OnAlert(string)                     {}

// notice collects what changed while the lock was held.
type notice struct {
	state       State
	hasState    bool
	messages    []chatmodel.ChatMessage
	hasMessages bool
	friends     []chatmodel.Friend
	hasFriends  bool
	alert       string
}

func (s *Session) notify(n notice) {
	if n.hasState {
		s.obs.OnState(n.state)
	}
	if n.hasFriends {
		s.obs.OnFriends(n.friends)
	}
	if n.hasMessages {
		s.obs.OnMessages(n.messages)
	}
	if n.alert != "" {
		s.obs.OnAlert(n.alert)
	}
}

func (s *Session) noteStateLocked(n *notice) {
	n.state, n.hasState = s.state, true
}

func (s *Session) noteMessagesLocked(n *notice) {
	n.messages, n.hasMessages = s.messagesLocked(), true
}

func (s *Session) noteFriendsLocked(n *notice) {
	n.friends, n.hasFriends = s.friendsLocked(), true
}
