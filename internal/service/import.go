package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"usergate/internal/models"
	"usergate/internal/repository"
	"usergate/internal/validation"
)

// ImportReport summarises a CSV import
type ImportReport struct {
	Created []*models.User `json:"-"`
	Skipped []SkippedRow   `json:"skipped"`
}

// SkippedRow is a CSV line that did not produce a user
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportCSV creates users from "loginname,mail,roleid;roleid" lines. The
// display name is the login name and the password is random. Role ids are
// trimmed and deduplicated; ids that are not numbers or unknown roles are
// ignored while the user is still created. Rows with an invalid login name or
// mail, or an existing login name, are skipped.
func (s *DirectoryService) ImportCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	log := zerolog.Ctx(ctx)
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	roles, err := s.repos().Roles.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(roles))
	for _, role := range roles {
		known[role.ID] = true
	}

	report := &ImportReport{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Skipped = append(report.Skipped, SkippedRow{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)

		req, reason := parseImportRecord(record, known)
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: reason})
			continue
		}

		var created *models.User
		err = s.inTx(ctx, func(repos *repository.Repos) error {
			var txErr error
			created, txErr = s.createImported(ctx, repos, req)
			return txErr
		})
		switch {
		case errors.Is(err, ErrLoginnameTaken):
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: "login name already exists"})
			continue
		case err != nil:
			return nil, err
		}
		report.Created = append(report.Created, created)
	}

	log.Info().Int("created", len(report.Created)).Int("skipped", len(report.Skipped)).Msg("CSV import finished")
	return report, nil
}

// parseImportRecord returns the user to create or the reason to skip the row
func parseImportRecord(record []string, knownRoles map[int64]bool) (UserRequest, string) {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	req := UserRequest{Loginname: field(0), Mail: field(1)}
	req.Displayname = req.Loginname
	if err := validation.ValidateLoginname(req.Loginname); err != nil {
		return req, "invalid login name"
	}
	if err := validation.ValidateMail(req.Mail); err != nil {
		return req, "invalid mail address"
	}

	seen := make(map[int64]bool)
	for _, part := range strings.Split(field(2), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || !knownRoles[id] || seen[id] {
			continue
		}
		seen[id] = true
		req.RoleIDs = append(req.RoleIDs, id)
	}
	return req, ""
}

func (s *DirectoryService) createImported(ctx context.Context, repos *repository.Repos, req UserRequest) (*models.User, error) {
	hash, err := randomPasswordHash()
	if err != nil {
		return nil, err
	}
	u, err := s.insertUser(ctx, repos, &models.User{
		Loginname:    req.Loginname,
		Displayname:  req.Displayname,
		Mail:         req.Mail,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	for _, rid := range req.RoleIDs {
		if err := repos.Users.AddRole(ctx, u.ID, rid); err != nil {
			return nil, err
		}
	}
	if err := updateGroups(ctx, repos, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}
