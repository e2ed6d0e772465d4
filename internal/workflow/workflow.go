package workflow

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"conecta/internal/auth"
	"conecta/internal/config"
	"conecta/internal/domain"
	"conecta/internal/events"
	"conecta/internal/repo"
)

// Engine runs every lifecycle operation inside a single transaction: the
// capability check and status check happen first, and the event row is
// appended before commit, so an unauthorized or illegal call never leaves
// a partial write behind.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) requireCapability(actor domain.Actor, cap auth.Capability) error {
	if !auth.HasCapability(auth.ParseRole(actor.Role), cap) {
		return auth.UnauthorizedError{Capability: cap}
	}
	return nil
}

// SubmitIdeaOptions are parameters for submitting an idea.
type SubmitIdeaOptions struct {
	Title       string
	Description string
	Category    string
	Priority    string
	Submitter   domain.Submitter
}

func (e Engine) SubmitIdea(ctx context.Context, actor domain.Actor, opts SubmitIdeaOptions) (domain.Idea, error) {
	if e.Config == nil {
		return domain.Idea{}, errors.New("config not loaded")
	}
	if err := e.requireCapability(actor, auth.CapSubmitIdea); err != nil {
		return domain.Idea{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Idea{}, ValidationError{Field: "title", Msg: "required"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Idea{}, ValidationError{Field: "description", Msg: "required"}
	}
	if !e.Config.KnownCategory(opts.Category) {
		return domain.Idea{}, ValidationError{Field: "category", Msg: "unknown category " + opts.Category}
	}
	if opts.Priority == "" {
		opts.Priority = "media"
	}
	if !e.Config.KnownPriority(opts.Priority) {
		return domain.Idea{}, ValidationError{Field: "priority", Msg: "unknown priority " + opts.Priority}
	}
	if opts.Submitter.Name == "" {
		opts.Submitter.Name = actor.Name
	}
	if opts.Submitter.ActorID == "" {
		opts.Submitter.ActorID = actor.ID
	}

	now := e.nowStr()
	i := domain.Idea{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(opts.Title),
		Description: strings.TrimSpace(opts.Description),
		Category:    opts.Category,
		Priority:    opts.Priority,
		Submitter:   opts.Submitter,
		Status:      "pendente",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIdea(ctx, tx, i); err != nil {
		return domain.Idea{}, err
	}
	if err := e.Events.Append(ctx, tx, "idea.submitted", "idea", i.ID, actor.ID, events.EventPayload{
		"title":    i.Title,
		"category": i.Category,
		"status":   i.Status,
	}); err != nil {
		return domain.Idea{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Idea{}, err
	}
	return i, nil
}

// Triage moves an idea through analysis. Notes append to the mediator or
// coordination log depending on who is acting; earlier notes are never
// overwritten.
func (e Engine) Triage(ctx context.Context, actor domain.Actor, ideaID, target, notes string) (domain.Idea, error) {
	if err := e.requireCapability(actor, auth.CapTriage); err != nil {
		return domain.Idea{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIdeaTx(ctx, tx, ideaID)
	if err != nil {
		return i, err
	}
	if err := ensureIdeaTransition(i.Status, target); err != nil {
		return i, err
	}
	if target == "atribuida" {
		// reachable only through Assign
		return i, InvalidTransitionError{Entity: "idea", From: i.Status, To: target}
	}
	from := i.Status
	i.Status = target
	if notes != "" {
		switch auth.ParseRole(actor.Role) {
		case auth.RoleCoordenacao:
			i.CoordinationNotes = appendNote(i.CoordinationNotes, notes)
		default:
			i.MediatorNotes = appendNote(i.MediatorNotes, notes)
		}
	}
	i.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateIdea(ctx, tx, i); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "idea.triaged", "idea", i.ID, actor.ID, events.EventPayload{
		"from": from,
		"to":   i.Status,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	return i, nil
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

// Assign hands an approved idea to a class and opens its project in the
// same transaction.
func (e Engine) Assign(ctx context.Context, actor domain.Actor, ideaID string, a domain.Assignment) (domain.Idea, domain.Project, error) {
	if err := e.requireCapability(actor, auth.CapAssignClass); err != nil {
		return domain.Idea{}, domain.Project{}, err
	}
	for _, f := range []struct{ name, v string }{
		{"course", a.Course},
		{"class", a.Class},
		{"semester", a.Semester},
		{"professor", a.Professor},
	} {
		if strings.TrimSpace(f.v) == "" {
			return domain.Idea{}, domain.Project{}, ValidationError{Field: f.name, Msg: "required"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, domain.Project{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIdeaTx(ctx, tx, ideaID)
	if err != nil {
		return i, domain.Project{}, err
	}
	if err := ensureIdeaTransition(i.Status, "atribuida"); err != nil {
		return i, domain.Project{}, err
	}
	now := e.nowStr()
	i.Status = "atribuida"
	i.Assignment = &a
	i.UpdatedAt = now
	if err := e.Repo.UpdateIdea(ctx, tx, i); err != nil {
		return i, domain.Project{}, err
	}
	p := domain.Project{
		ID:        uuid.New().String(),
		IdeaID:    i.ID,
		Title:     i.Title,
		Category:  i.Category,
		Priority:  i.Priority,
		Status:    "em_desenvolvimento",
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return i, p, err
	}
	if err := e.Events.Append(ctx, tx, "idea.assigned", "idea", i.ID, actor.ID, events.EventPayload{
		"course":    a.Course,
		"class":     a.Class,
		"semester":  a.Semester,
		"professor": a.Professor,
	}); err != nil {
		return i, p, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", "project", p.ID, actor.ID, events.EventPayload{
		"idea_id": i.ID,
		"status":  p.Status,
	}); err != nil {
		return i, p, err
	}
	if err := tx.Commit(); err != nil {
		return i, p, err
	}
	return i, p, nil
}

// ToBacklog returns an idea to pendente for a fresh triage round. This is
// the one deliberate bypass of the forward-only ordering; rejected ideas
// stay rejected.
func (e Engine) ToBacklog(ctx context.Context, actor domain.Actor, ideaID string) (domain.Idea, error) {
	if err := e.requireCapability(actor, auth.CapBacklog); err != nil {
		return domain.Idea{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIdeaTx(ctx, tx, ideaID)
	if err != nil {
		return i, err
	}
	if i.Status == "rejeitada" {
		return i, InvalidTransitionError{Entity: "idea", From: i.Status, To: "pendente"}
	}
	from := i.Status
	i.Status = "pendente"
	i.Assignment = nil
	i.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateIdea(ctx, tx, i); err != nil {
		return i, err
	}
	if err := e.Repo.DeleteProjectByIdea(ctx, tx, i.ID); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "idea.backlogged", "idea", i.ID, actor.ID, events.EventPayload{
		"from": from,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	return i, nil
}

// requireOwnership enforces the student gate: the actor must hold the
// capability, and once a project has a recorded owner only that student
// may act on it.
func (e Engine) requireOwnership(actor domain.Actor, cap auth.Capability, p domain.Project) error {
	if err := e.requireCapability(actor, cap); err != nil {
		return err
	}
	if p.Student != nil && p.Student.ActorID != actor.ID {
		return auth.OwnershipError{ProjectID: p.ID}
	}
	return nil
}

// ClaimProject records a student as the project owner. An unowned project
// may be claimed by any estudante; after that, ownership is locked until
// coordination reassigns.
func (e Engine) ClaimProject(ctx context.Context, actor domain.Actor, projectID string, s domain.Student) (domain.Project, error) {
	role := auth.ParseRole(actor.Role)
	if role != auth.RoleEstudante && role != auth.RoleCoordenacao {
		return domain.Project{}, auth.UnauthorizedError{Capability: auth.CapPostUpdate}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return p, err
	}
	if role == auth.RoleEstudante && p.Student != nil && p.Student.ActorID != actor.ID {
		return p, auth.OwnershipError{ProjectID: p.ID}
	}
	if s.ActorID == "" {
		s.ActorID = actor.ID
	}
	if s.Name == "" {
		s.Name = actor.Name
	}
	p.Student = &s
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "project.claimed", "project", p.ID, actor.ID, events.EventPayload{
		"student": s.Name,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// PostUpdate appends a progress note to the project log.
func (e Engine) PostUpdate(ctx context.Context, actor domain.Actor, projectID, message string) (domain.ProjectUpdate, error) {
	if strings.TrimSpace(message) == "" {
		return domain.ProjectUpdate{}, ValidationError{Field: "message", Msg: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectUpdate{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.ProjectUpdate{}, err
	}
	if err := e.requireOwnership(actor, auth.CapPostUpdate, p); err != nil {
		return domain.ProjectUpdate{}, err
	}
	now := e.now().UTC()
	u := domain.ProjectUpdate{
		ID:        ulid.Make().String(),
		ProjectID: p.ID,
		Author:    actor.Name,
		Message:   strings.TrimSpace(message),
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertProjectUpdate(ctx, tx, u); err != nil {
		return u, err
	}
	p.UpdatedAt = u.CreatedAt
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return u, err
	}
	if err := e.Events.Append(ctx, tx, "project.update.posted", "project", p.ID, actor.ID, events.EventPayload{
		"update_id": u.ID,
	}); err != nil {
		return u, err
	}
	if err := tx.Commit(); err != nil {
		return u, err
	}
	return u, nil
}

// SetProgress sets the completion percentage, clamped to [0,100].
func (e Engine) SetProgress(ctx context.Context, actor domain.Actor, projectID string, value int) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return p, err
	}
	if err := e.requireOwnership(actor, auth.CapSetProgress, p); err != nil {
		return p, err
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	from := p.Progress
	p.Progress = value
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "project.progress", "project", p.ID, actor.ID, events.EventPayload{
		"from": from,
		"to":   value,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// SetProjectStatus moves a project through its lifecycle.
func (e Engine) SetProjectStatus(ctx context.Context, actor domain.Actor, projectID, target string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return p, err
	}
	if err := e.requireOwnership(actor, auth.CapSetStatus, p); err != nil {
		return p, err
	}
	if err := ensureProjectTransition(p.Status, target); err != nil {
		return p, err
	}
	from := p.Status
	p.Status = target
	if target == "concluido" {
		p.Progress = 100
	}
	p.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "project.status", "project", p.ID, actor.ID, events.EventPayload{
		"from": from,
		"to":   target,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}
