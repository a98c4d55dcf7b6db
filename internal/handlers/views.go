package handlers

import (
	"slices"
	"time"

	"usergate/internal/models"
	"usergate/internal/service"
)

// UserView is the JSON representation of a user for sessions and admins
type UserView struct {
	ID            int64      `json:"id"`
	UnixUID       int64      `json:"unix_uid"`
	Loginname     string     `json:"loginname"`
	Displayname   string     `json:"displayname"`
	Mail          string     `json:"mail"`
	IsServiceUser bool       `json:"is_service_user"`
	Groups        []string   `json:"groups"`
	Roles         []RoleView `json:"roles"`
}

type GroupView struct {
	ID          int64  `json:"id"`
	UnixGID     int64  `json:"unix_gid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type RoleView struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	IsDefault        bool     `json:"is_default"`
	ModeratorGroupID *int64   `json:"moderator_group_id,omitempty"`
	Groups           []string `json:"groups,omitempty"`
}

// InviteView never exposes the full token of an invite the viewer did not
// just create
type InviteView struct {
	ID          int64      `json:"id"`
	Token       string     `json:"token"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatorID   *int64     `json:"creator_id"`
	ValidUntil  time.Time  `json:"valid_until"`
	SingleUse   bool       `json:"single_use"`
	AllowSignup bool       `json:"allow_signup"`
	Used        bool       `json:"used"`
	Disabled    bool       `json:"disabled"`
	Active      bool       `json:"active"`
	Roles       []RoleView `json:"roles"`

	Redemptions []RedemptionView `json:"redemptions,omitempty"`
}

// RedemptionView is one use of an invite, either a role grant to an existing
// user or a completed signup
type RedemptionView struct {
	Kind      string    `json:"kind"`
	Loginname string    `json:"loginname"`
	CreatedAt time.Time `json:"created_at"`
}

// MFAView summarizes the second factors of a user. Secrets and recovery
// code hashes are never returned.
type MFAView struct {
	Enabled       bool            `json:"enabled"`
	RecoveryCodes int             `json:"recovery_codes"`
	TOTP          []MFAMethodView `json:"totp"`
}

type MFAMethodView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type MailView struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	ReceiveAddresses     []string `json:"receive_addresses"`
	DestinationAddresses []string `json:"destination_addresses"`
}

// apiUser, apiGroup and apiMail are the dictionaries of the machine API
type apiUser struct {
	ID          int64    `json:"id"`
	Loginname   string   `json:"loginname"`
	Email       string   `json:"email"`
	Displayname string   `json:"displayname"`
	Groups      []string `json:"groups"`
}

type apiGroup struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type apiMail struct {
	Name                 string   `json:"name"`
	ReceiveAddresses     []string `json:"receive_addresses"`
	DestinationAddresses []string `json:"destination_addresses"`
}

func newUserView(u *models.User) UserView {
	v := UserView{
		ID:            u.ID,
		UnixUID:       u.UnixUID,
		Loginname:     u.Loginname,
		Displayname:   u.Displayname,
		Mail:          u.Mail,
		IsServiceUser: u.IsServiceUser,
		Groups:        u.GroupNames(),
		Roles:         make([]RoleView, 0, len(u.Roles)),
	}
	for i := range u.Roles {
		v.Roles = append(v.Roles, newRoleView(&u.Roles[i]))
	}
	return v
}

func newGroupView(g *models.Group) GroupView {
	return GroupView{ID: g.ID, UnixGID: g.UnixGID, Name: g.Name, Description: g.Description}
}

func newRoleView(r *models.Role) RoleView {
	v := RoleView{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		IsDefault:        r.IsDefault,
		ModeratorGroupID: r.ModeratorGroupID,
	}
	for _, g := range r.Groups {
		v.Groups = append(v.Groups, g.Name)
	}
	return v
}

func newInviteView(inv *models.Invite, active, fullToken bool) InviteView {
	token := inv.ShortToken()
	if fullToken {
		token = inv.Token
	}
	v := InviteView{
		ID:          inv.ID,
		Token:       token,
		CreatedAt:   inv.CreatedAt,
		CreatorID:   inv.CreatorID,
		ValidUntil:  inv.ValidUntil,
		SingleUse:   inv.SingleUse,
		AllowSignup: inv.AllowSignup,
		Used:        inv.Used,
		Disabled:    inv.Disabled,
		Active:      active,
		Roles:       make([]RoleView, 0, len(inv.Roles)),
	}
	for i := range inv.Roles {
		v.Roles = append(v.Roles, newRoleView(&inv.Roles[i]))
	}
	for _, g := range inv.Grants {
		v.Redemptions = append(v.Redemptions, RedemptionView{Kind: "grant", Loginname: g.Loginname, CreatedAt: g.CreatedAt})
	}
	for _, su := range inv.Signups {
		v.Redemptions = append(v.Redemptions, RedemptionView{Kind: "signup", Loginname: su.Loginname, CreatedAt: su.CreatedAt})
	}
	slices.SortStableFunc(v.Redemptions, func(a, b RedemptionView) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return v
}

func newAPIUser(u *models.User) apiUser {
	return apiUser{
		ID:          u.UnixUID,
		Loginname:   u.Loginname,
		Email:       u.Mail,
		Displayname: u.Displayname,
		Groups:      u.GroupNames(),
	}
}

func newAPIGroup(g service.GroupWithMembers) apiGroup {
	return apiGroup{ID: g.UnixGID, Name: g.Name, Members: nonNil(g.Members)}
}

func newMFAView(methods models.MFAMethods) MFAView {
	v := MFAView{
		Enabled:       methods.Enabled(),
		RecoveryCodes: len(methods.OfType(models.MFARecoveryCode)),
		TOTP:          []MFAMethodView{},
	}
	for i, m := range methods {
		if m.Type == models.MFATOTP {
			v.TOTP = append(v.TOTP, newMFAMethodView(&methods[i]))
		}
	}
	return v
}

func newMFAMethodView(m *models.MFAMethod) MFAMethodView {
	return MFAMethodView{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func newMailView(m *models.Mail) MailView {
	return MailView{
		ID:                   m.ID,
		Name:                 m.Name,
		ReceiveAddresses:     nonNil(m.ReceiveAddresses),
		DestinationAddresses: nonNil(m.DestinationAddresses),
	}
}

func newAPIMail(m *models.Mail) apiMail {
	return apiMail{
		Name:                 m.Name,
		ReceiveAddresses:     nonNil(m.ReceiveAddresses),
		DestinationAddresses: nonNil(m.DestinationAddresses),
	}
}
