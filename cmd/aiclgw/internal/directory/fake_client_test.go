package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/idp"
)

const (
	idAdmin     = "0b8f1a52-6d4e-4c1a-9a0e-1f2d3c4b5a61"
	idCaptain1  = "1c9e2b63-7e5f-4d2b-8b1f-2e3d4c5b6a72"
	idMember1   = "2da03c74-8f60-4e3c-9c20-3f4e5d6c7b83"
	idAdvisor1  = "3eb14d85-9071-4f4d-8d31-4a5f6e7d8c94"
	idViewer    = "4fc25e96-a182-405e-9e42-5b6a7f8e9da5"
	idNoRole    = "50d36fa7-b293-416f-8f53-6c7b8a9faeb6"
	idMultiTeam = "61e470b8-c3a4-4270-9064-7d8c9bab0fc7"
)

// fakeClient is an in-memory identity provider that counts calls per method
// and key.
type fakeClient struct {
	mu     sync.Mutex
	calls  map[string]int
	users  []idp.User
	groups map[string]idp.Group
	member map[string][]string
	roles  map[string][]string

	// failNext makes the next call of the named method fail with an upstream error.
	failNext map[string]bool
	// block, when set, is waited on by GetUser before answering.
	block chan struct{}
}

func newFakeClient() *fakeClient {
	f := &fakeClient{
		calls:    map[string]int{},
		groups:   map[string]idp.Group{},
		member:   map[string][]string{},
		roles:    map[string][]string{},
		failNext: map[string]bool{},
	}
	add := func(g idp.Group) { f.groups[g.ID] = g }
	add(idp.Group{ID: "g-teams", Name: "Teams", Path: "/Teams"})
	add(idp.Group{ID: "g-inst", Name: "Institutions", Path: "/Institutions"})
	add(idp.Group{ID: "g-team1", Name: "Team1", Path: "/Teams/Team1", ParentID: "g-teams"})
	add(idp.Group{ID: "g-team2", Name: "Team2", Path: "/Teams/Team2", ParentID: "g-teams"})
	add(idp.Group{ID: "g-team3", Name: "Team3", Path: "/Teams/Team3", ParentID: "g-teams"})
	add(idp.Group{ID: "g-school1", Name: "School1", Path: "/Institutions/School1", ParentID: "g-inst"})
	add(idp.Group{ID: "g-school2", Name: "School2", Path: "/Institutions/School2", ParentID: "g-inst"})
	add(idp.Group{ID: "g-red", Name: "Red", Path: "/Red", Attributes: map[string][]string{"type": {"team"}}})

	f.users = []idp.User{
		{ID: idAdmin, Username: "admin", Email: "admin@test.com", Enabled: true},
		{ID: idCaptain1, Username: "captain1", Email: "captain1@test.com", FirstName: "Charles", Enabled: true},
		{ID: idMember1, Username: "member1", Email: "member1@test.com", Enabled: true},
		{ID: idAdvisor1, Username: "advisor1", Email: "advisor1@test.com", Enabled: true},
		{ID: idViewer, Username: "viewer_global", Email: "viewer@test.com", Enabled: true},
		{ID: idNoRole, Username: "nobody", Email: "nobody@test.com", Enabled: true},
		{ID: idMultiTeam, Username: "drifter", Email: "drifter@test.com", Enabled: true},
	}
	f.member[idCaptain1] = []string{"g-team1"}
	f.member[idMember1] = []string{"g-team1"}
	f.member[idAdvisor1] = []string{"g-school1"}
	f.member[idMultiTeam] = []string{"g-team2", "g-red"}

	f.roles[idAdmin] = []string{"admin", "default-roles-app-realm"}
	f.roles[idCaptain1] = []string{"captain", "student"}
	f.roles[idMember1] = []string{"member"}
	f.roles[idAdvisor1] = []string{"advisor"}
	f.roles[idViewer] = []string{"viewer"}
	f.roles[idNoRole] = []string{"default-roles-app-realm"}
	f.roles[idMultiTeam] = []string{"student"}
	return f
}

func (f *fakeClient) record(method, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method+":"+key]++
	if f.failNext[method] {
		f.failNext[method] = false
		return fmt.Errorf("%w: %s unavailable", autherr.ErrUpstream, method)
	}
	return nil
}

func (f *fakeClient) count(method, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+":"+key]
}

func (f *fakeClient) failOnce(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = true
}

func (f *fakeClient) GetUser(ctx context.Context, id string) (*idp.User, error) {
	if f.block != nil {
		<-f.block
	}
	if err := f.record("GetUser", id); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, autherr.ErrNotFound
}

func (f *fakeClient) FindUsersByUsername(ctx context.Context, username string) ([]idp.User, error) {
	if err := f.record("FindUsersByUsername", username); err != nil {
		return nil, err
	}
	var out []idp.User
	for _, u := range f.users {
		if u.Username == username {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeClient) ListUsers(ctx context.Context) ([]idp.User, error) {
	if err := f.record("ListUsers", ""); err != nil {
		return nil, err
	}
	return append([]idp.User(nil), f.users...), nil
}

func (f *fakeClient) GetUserGroups(ctx context.Context, userID string) ([]idp.Group, error) {
	if err := f.record("GetUserGroups", userID); err != nil {
		return nil, err
	}
	var out []idp.Group
	for _, gid := range f.member[userID] {
		out = append(out, f.groups[gid])
	}
	return out, nil
}

func (f *fakeClient) ListGroups(ctx context.Context, parentID string) ([]idp.Group, error) {
	if err := f.record("ListGroups", parentID); err != nil {
		return nil, err
	}
	var out []idp.Group
	for _, id := range []string{"g-teams", "g-inst", "g-team1", "g-team2", "g-team3", "g-school1", "g-school2", "g-red"} {
		if g := f.groups[id]; g.ParentID == parentID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeClient) GetGroup(ctx context.Context, id string) (*idp.Group, error) {
	if err := f.record("GetGroup", id); err != nil {
		return nil, err
	}
	g, ok := f.groups[id]
	if !ok {
		return nil, autherr.ErrNotFound
	}
	return &g, nil
}

func (f *fakeClient) GetUserRealmRoles(ctx context.Context, userID string) ([]idp.RealmRole, error) {
	if err := f.record("GetUserRealmRoles", userID); err != nil {
		return nil, err
	}
	var out []idp.RealmRole
	for i, name := range f.roles[userID] {
		out = append(out, idp.RealmRole{ID: fmt.Sprintf("r%d", i), Name: name})
	}
	return out, nil
}
