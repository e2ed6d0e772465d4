package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"conecta/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const ideaColumns = `id,title,description,category,priority,submitter_actor_id,submitter_name,submitter_email,submitter_phone,status,mediator_notes,coordination_notes,assign_course,assign_class,assign_semester,assign_professor,created_at,updated_at`

type ideaScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row ideaScanner) (domain.Idea, error) {
	var i domain.Idea
	var submitterActor, submitterEmail, submitterPhone sql.NullString
	var mediatorNotes, coordinationNotes sql.NullString
	var course, class, semester, professor sql.NullString
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Category, &i.Priority,
		&submitterActor, &i.Submitter.Name, &submitterEmail, &submitterPhone,
		&i.Status, &mediatorNotes, &coordinationNotes,
		&course, &class, &semester, &professor,
		&i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.Submitter.ActorID = submitterActor.String
	i.Submitter.Email = submitterEmail.String
	i.Submitter.Phone = submitterPhone.String
	i.MediatorNotes = mediatorNotes.String
	i.CoordinationNotes = coordinationNotes.String
	if course.Valid && class.Valid && semester.Valid && professor.Valid {
		i.Assignment = &domain.Assignment{
			Course:    course.String,
			Class:     class.String,
			Semester:  semester.String,
			Professor: professor.String,
		}
	}
	return i, nil
}

func (r Repo) InsertIdea(ctx context.Context, tx *sql.Tx, i domain.Idea) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ideas(`+ideaColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Title, i.Description, i.Category, i.Priority,
		nullable(i.Submitter.ActorID), i.Submitter.Name, nullable(i.Submitter.Email), nullable(i.Submitter.Phone),
		i.Status, nullable(i.MediatorNotes), nullable(i.CoordinationNotes),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Course }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Class }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Semester }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Professor }),
		i.CreatedAt, i.UpdatedAt)
	return err
}

func assignField(a *domain.Assignment, get func(*domain.Assignment) string) any {
	if a == nil {
		return nil
	}
	return get(a)
}

func (r Repo) GetIdea(ctx context.Context, id string) (domain.Idea, error) {
	return scanIdea(r.DB.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=?`, id))
}

func (r Repo) GetIdeaTx(ctx context.Context, tx *sql.Tx, id string) (domain.Idea, error) {
	return scanIdea(tx.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=?`, id))
}

func (r Repo) UpdateIdea(ctx context.Context, tx *sql.Tx, i domain.Idea) error {
	res, err := tx.ExecContext(ctx, `UPDATE ideas SET title=?, description=?, category=?, priority=?, status=?, mediator_notes=?, coordination_notes=?, assign_course=?, assign_class=?, assign_semester=?, assign_professor=?, updated_at=? WHERE id=?`,
		i.Title, i.Description, i.Category, i.Priority, i.Status,
		nullable(i.MediatorNotes), nullable(i.CoordinationNotes),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Course }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Class }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Semester }),
		assignField(i.Assignment, func(a *domain.Assignment) string { return a.Professor }),
		i.UpdatedAt, i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type IdeaFilters struct {
	Status   string
	Category string
	Priority string
	Search   string
	Page     int
	PageSize int
}

// ListIdeas returns the filtered page plus the total matching count.
func (r Repo) ListIdeas(ctx context.Context, f IdeaFilters) ([]domain.Idea, int, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR submitter_name LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM ideas `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + ideaColumns + ` FROM ideas ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.PageSize, (page-1)*f.PageSize)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		i, err := scanIdea(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, i)
	}
	return res, total, rows.Err()
}

const projectColumns = `id,idea_id,title,category,priority,status,progress,student_actor_id,student_name,student_course,student_semester,created_at,updated_at`

func scanProject(row ideaScanner) (domain.Project, error) {
	var p domain.Project
	var studentActor, studentName, studentCourse, studentSemester sql.NullString
	err := row.Scan(&p.ID, &p.IdeaID, &p.Title, &p.Category, &p.Priority, &p.Status, &p.Progress,
		&studentActor, &studentName, &studentCourse, &studentSemester,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if studentActor.Valid {
		p.Student = &domain.Student{
			ActorID:  studentActor.String,
			Name:     studentName.String,
			Course:   studentCourse.String,
			Semester: studentSemester.String,
		}
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.IdeaID, p.Title, p.Category, p.Priority, p.Status, p.Progress,
		studentField(p.Student, func(s *domain.Student) string { return s.ActorID }),
		studentField(p.Student, func(s *domain.Student) string { return s.Name }),
		studentField(p.Student, func(s *domain.Student) string { return s.Course }),
		studentField(p.Student, func(s *domain.Student) string { return s.Semester }),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func studentField(s *domain.Student, get func(*domain.Student) string) any {
	if s == nil {
		return nil
	}
	return get(s)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByIdea(ctx context.Context, ideaID string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE idea_id=?`, ideaID))
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, progress=?, student_actor_id=?, student_name=?, student_course=?, student_semester=?, updated_at=? WHERE id=?`,
		p.Status, p.Progress,
		studentField(p.Student, func(s *domain.Student) string { return s.ActorID }),
		studentField(p.Student, func(s *domain.Student) string { return s.Name }),
		studentField(p.Student, func(s *domain.Student) string { return s.Course }),
		studentField(p.Student, func(s *domain.Student) string { return s.Semester }),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectByIdea removes the project spawned from an idea, if any.
func (r Repo) DeleteProjectByIdea(ctx context.Context, tx *sql.Tx, ideaID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE idea_id=?`, ideaID)
	return err
}

type ProjectFilters struct {
	Statuses []string
	Category string
	Priority string
	Search   string
	Page     int
	PageSize int
}

// ListProjects returns the filtered page plus the total matching count.
// Search also matches the linked idea's description.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, int, error) {
	var clauses []string
	var args []any
	if len(f.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(f.Statuses))
		clauses = append(clauses, fmt.Sprintf("p.status IN (%s)", placeholders[:len(placeholders)-1]))
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.Category != "" {
		clauses = append(clauses, "p.category=?")
		args = append(args, f.Category)
	}
	if f.Priority != "" {
		clauses = append(clauses, "p.priority=?")
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		clauses = append(clauses, "(p.title LIKE ? OR i.description LIKE ? OR p.student_name LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	base := ` FROM projects p JOIN ideas i ON i.id=p.idea_id ` + where
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	cols := "p.id,p.idea_id,p.title,p.category,p.priority,p.status,p.progress,p.student_actor_id,p.student_name,p.student_course,p.student_semester,p.created_at,p.updated_at"
	query := `SELECT ` + cols + base + ` ORDER BY p.created_at DESC, p.id DESC`
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.PageSize, (page-1)*f.PageSize)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, p)
	}
	return res, total, rows.Err()
}

func (r Repo) InsertProjectUpdate(ctx context.Context, tx *sql.Tx, u domain.ProjectUpdate) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_updates(id,project_id,author,message,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.ProjectID, u.Author, u.Message, u.CreatedAt)
	return err
}

func (r Repo) ListProjectUpdates(ctx context.Context, projectID string) ([]domain.ProjectUpdate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,author,message,created_at FROM project_updates WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectUpdate
	for rows.Next() {
		var u domain.ProjectUpdate
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Author, &u.Message, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entity.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entity.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
