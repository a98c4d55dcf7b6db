package service

import (
	"context"
	"errors"
	"strconv"

	"usergate/internal/models"
)

// ErrInvalidFilter is returned for an unknown directory filter key
var ErrInvalidFilter = errors.New("invalid filter")

// GroupWithMembers is a group together with the login names of its
// effective members
type GroupWithMembers struct {
	models.Group
	Members []string
}

// FindUsers returns the users matching one filter. An empty key matches
// every user; otherwise key is one of id (unix uid), loginname, email or
// group (group name).
func (s *DirectoryService) FindUsers(ctx context.Context, key, value string) ([]*models.User, error) {
	var match func(u *models.User) bool
	switch key {
	case "":
		match = func(*models.User) bool { return true }
	case "id":
		uid, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, nil
		}
		match = func(u *models.User) bool { return u.UnixUID == uid }
	case "loginname":
		match = func(u *models.User) bool { return u.Loginname == value }
	case "email":
		match = func(u *models.User) bool { return u.Mail == value }
	case "group":
		match = func(u *models.User) bool { return value != "" && u.IsInGroup(value) }
	default:
		return nil, ErrInvalidFilter
	}

	users, err := s.repos().Users.List(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]*models.User, 0, len(users))
	for _, u := range users {
		if match(u) {
			found = append(found, u)
		}
	}
	return found, nil
}

// FindGroups returns the groups matching one filter with their members. An
// empty key matches every group; otherwise key is one of id (unix gid), name
// or member (login name).
func (s *DirectoryService) FindGroups(ctx context.Context, key, value string) ([]GroupWithMembers, error) {
	repos := s.repos()

	var match func(g models.Group) bool
	switch key {
	case "":
		match = func(models.Group) bool { return true }
	case "id":
		gid, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, nil
		}
		match = func(g models.Group) bool { return g.UnixGID == gid }
	case "name":
		match = func(g models.Group) bool { return g.Name == value }
	case "member":
		u, err := repos.Users.GetByLoginname(ctx, value)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, nil
		}
		match = func(g models.Group) bool { return u.HasGroupID(g.ID) }
	default:
		return nil, ErrInvalidFilter
	}

	groups, err := repos.Groups.List(ctx)
	if err != nil {
		return nil, err
	}
	var found []GroupWithMembers
	for _, g := range groups {
		if !match(g) {
			continue
		}
		members, err := repos.Groups.MemberLoginnames(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		found = append(found, GroupWithMembers{Group: g, Members: members})
	}
	return found, nil
}
