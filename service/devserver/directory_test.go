package devserver

import (
	"errors"
	"testing"

	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
)

func TestDirectoryLink(t *testing.T) {
	d := NewDirectory()
	d.AddUser(usermodel.Identity{ID: 1, Username: "alice"})
	d.AddUser(usermodel.Identity{ID: 2, Username: "bob"})

	if _, err := d.Link(1, 1, true); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("self link err = %v", err)
	}
	if _, err := d.Link(1, 9, true); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("unknown user err = %v", err)
	}

	id, err := d.Link(2, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if d.AreFriends(1, 2) || len(d.Friends(1)) != 0 {
		t.Fatalf("pending request counted as friendship")
	}
	if reqs := d.Requests(1); len(reqs) != 1 || reqs[0].UserID != 2 {
		t.Fatalf("requests = %+v", reqs)
	}

	// accepting from the other side reuses the record
	again, err := d.Link(1, 2, true)
	if err != nil || again != id {
		t.Fatalf("accept = %d %v, want %d", again, err, id)
	}
	if !d.AreFriends(2, 1) || len(d.Requests(1)) != 0 {
		t.Fatalf("link not accepted")
	}
	if fs := d.Friends(2); len(fs) != 1 || fs[0].UserID != 1 || fs[0].User.Username != "alice" || fs[0].FriendUserID != 2 {
		t.Fatalf("friends(2) = %+v", fs)
	}
	if us := d.Users(); len(us) != 2 || us[0].ID != 1 {
		t.Fatalf("users = %+v", us)
	}
}
