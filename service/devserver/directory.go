package devserver

import (
	"sort"
	"sync"
	"time"

	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
)

type link struct {
	id int64
	from, to  int64 // from 发起申请, to 被申请
	accepted  bool
	createdAt time.Time
}

// Directory 保存用户与好友关系（仅内存，联调用）。
type Directory struct {
	mu     sync.RWMutex
	users  map[int64]usermodel.Identity
	links  []link
	nextID int64
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[int64]usermodel.Identity)}
}

func (d *Directory) AddUser(u usermodel.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Directory) User(id int64) (usermodel.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

func (d *Directory) Users() []usermodel.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]usermodel.Identity, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Link records a friendship request from -> to, accepted or pending.
func (d *Directory) Link(from, to int64, accepted bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from == to {
		return 0, errs.ErrInvalidInput.WrapMsg("cannot befriend yourself", "user", from)
	}
	for _, id := range []int64{from, to} {
		if _, ok := d.users[id]; !ok {
			return 0, errs.ErrInvalidInput.WrapMsg("unknown user", "user", id)
		}
	}
	for i := range d.links {
		l := &d.links[i]
		if (l.from == from && l.to == to) || (l.from == to && l.to == from) {
			l.accepted = l.accepted || accepted
			return l.id, nil
		}
	}
	d.nextID++
	d.links = append(d.links, link{id: d.nextID, from: from, to: to, accepted: accepted, createdAt: time.Now().UTC()})
	return d.nextID, nil
}

// Friends lists accepted friendships of user. Each record is shaped from
// the viewer's side: UserID and User describe the counterpart.
func (d *Directory) Friends(user int64) []chatmodel.Friend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []chatmodel.Friend{}
	for _, l := range d.links {
		if !l.accepted {
			continue
		}
		switch user {
		case l.from:
			out = append(out, d.recordLocked(l, l.to, user))
		case l.to:
			out = append(out, d.recordLocked(l, l.from, user))
		}
	}
	return out
}

// Requests lists pending requests addressed to user.
func (d *Directory) Requests(user int64) []chatmodel.Friend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []chatmodel.Friend{}
	for _, l := range d.links {
		if !l.accepted && l.to == user {
			out = append(out, d.recordLocked(l, l.from, user))
		}
	}
	return out
}

// AreFriends 是否为已通过的好友
func (d *Directory) AreFriends(a, b int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, l := range d.links {
		if l.accepted && ((l.from == a && l.to == b) || (l.from == b && l.to == a)) {
			return true
		}
	}
	return false
}

func (d *Directory) recordLocked(l link, peer, viewer int64) chatmodel.Friend {
	u := d.users[peer]
	return chatmodel.Friend{
		ID:           l.id,
		UserID:       peer,
		FriendUserID: viewer,
		Status:       l.accepted,
		CreatedAt:    l.createdAt,
		User: chatmodel.FriendUser{
			UserID:   u.ID,
			Username: u.Username,
			Fullname: u.Fullname,
		},
	}
}
