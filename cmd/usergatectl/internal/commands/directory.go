package commands

import (
	"context"
	"fmt"
	"strings"

	"usergate/internal/service"
)

type GroupCmd struct {
	Create GroupCreateCmd `cmd:"" help:"Create a group"`
	List   GroupListCmd   `cmd:"" help:"List groups with their members"`
	Delete GroupDeleteCmd `cmd:"" help:"Delete a group and drop it from every user and role"`
}

type GroupCreateCmd struct {
	Name        string `arg:"" help:"Group name"`
	Description string `help:"Description"`
}

func (c *GroupCreateCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := e.directory.CreateGroup(e.ctx, c.Name, c.Description)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Created group %s (gid %d)\n", g.Name, g.UnixGID)
	return nil
}

type GroupListCmd struct{}

func (c *GroupListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	groups, err := e.directory.FindGroups(e.ctx, "", "")
	if err != nil {
		return err
	}
	w := e.table()
	fmt.Fprintln(w, "GID\tNAME\tMEMBERS")
	for _, g := range groups {
		fmt.Fprintf(w, "%d\t%s\t%s\n", g.UnixGID, g.Name, strings.Join(g.Members, ","))
	}
	return w.Flush()
}

type GroupDeleteCmd struct {
	Name string `arg:"" help:"Group name"`
}

func (c *GroupDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ids, err := e.groupIDs([]string{c.Name})
	if err != nil {
		return err
	}
	if err := e.directory.DeleteGroup(e.ctx, ids[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted group %s\n", c.Name)
	return nil
}

type RoleCmd struct {
	Create    RoleCreateCmd    `cmd:"" help:"Create a role"`
	List      RoleListCmd      `cmd:"" help:"List roles"`
	SetGroups RoleSetGroupsCmd `cmd:"" name:"set-groups" help:"Replace the groups of a role"`
	Delete    RoleDeleteCmd    `cmd:"" help:"Delete a role and take it away from its members"`
}

type RoleCreateCmd struct {
	Name        string   `arg:"" help:"Role name"`
	Description string   `help:"Description"`
	Default     bool     `help:"Grant the role to every new user"`
	Moderator   string   `help:"Group whose members may hand out the role with invites"`
	Group       []string `help:"Group granted by the role (repeatable)"`
}

func (c *RoleCreateCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	groupIDs, err := e.groupIDs(c.Group)
	if err != nil {
		return err
	}
	req := service.RoleRequest{Name: c.Name, Description: c.Description, IsDefault: c.Default, GroupIDs: groupIDs}
	if c.Moderator != "" {
		ids, err := e.groupIDs([]string{c.Moderator})
		if err != nil {
			return err
		}
		req.ModeratorGroupID = &ids[0]
	}

	role, err := e.directory.CreateRole(e.ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Created role %s (id %d)\n", role.Name, role.ID)
	return nil
}

type RoleListCmd struct{}

func (c *RoleListCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	roles, err := e.directory.ListRoles(e.ctx)
	if err != nil {
		return err
	}
	w := e.table()
	fmt.Fprintln(w, "ID\tNAME\tDEFAULT\tGROUPS")
	for _, r := range roles {
		names := make([]string, 0, len(r.Groups))
		for _, g := range r.Groups {
			names = append(names, g.Name)
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", r.ID, r.Name, r.IsDefault, strings.Join(names, ","))
	}
	return w.Flush()
}

type RoleSetGroupsCmd struct {
	Name  string   `arg:"" help:"Role name"`
	Group []string `help:"Group granted by the role (repeatable)"`
}

func (c *RoleSetGroupsCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	roleIDs, err := e.roleIDs([]string{c.Name})
	if err != nil {
		return err
	}
	groupIDs, err := e.groupIDs(c.Group)
	if err != nil {
		return err
	}
	if err := e.directory.SetRoleGroups(e.ctx, roleIDs[0], groupIDs); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Role %s now grants %s\n", c.Name, strings.Join(c.Group, ","))
	return nil
}

type RoleDeleteCmd struct {
	Name string `arg:"" help:"Role name"`
}

func (c *RoleDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ids, err := e.roleIDs([]string{c.Name})
	if err != nil {
		return err
	}
	if err := e.directory.DeleteRole(e.ctx, ids[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted role %s\n", c.Name)
	return nil
}
