package server

import (
	"encoding/json"

	"conecta/internal/domain"
)

// Request payloads

type SubmitIdeaRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority,omitempty" enum:"baixa,media,alta,urgente"`
	Submitter   *struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
	} `json:"submitter,omitempty"`
}

type TriageRequest struct {
	Target string `json:"target" enum:"em_analise,aprovada,rejeitada"`
	Notes  string `json:"notes,omitempty"`
}

type AssignRequest struct {
	Course    string `json:"course"`
	Class     string `json:"class"`
	Semester  string `json:"semester"`
	Professor string `json:"professor"`
}

type ClaimProjectRequest struct {
	Course   string `json:"course,omitempty"`
	Semester string `json:"semester,omitempty"`
	// Coordination may claim on behalf of a student.
	StudentActorID string `json:"student_actor_id,omitempty"`
	StudentName    string `json:"student_name,omitempty"`
}

type PostUpdateRequest struct {
	Message string `json:"message"`
}

type SetProgressRequest struct {
	Value int `json:"value" minimum:"0" maximum:"100"`
}

type SetProjectStatusRequest struct {
	Status string `json:"status" enum:"em_desenvolvimento,testando,concluido,suspenso"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role" enum:"comunidade,estudante,mediador,coordenacao"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Source  string `json:"source"`
}

// Response payloads

type SubmitterResponse struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type AssignmentResponse struct {
	Course    string `json:"course"`
	Class     string `json:"class"`
	Semester  string `json:"semester"`
	Professor string `json:"professor"`
}

type IdeaResponse struct {
	ID                string              `json:"id"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	Category          string              `json:"category"`
	Priority          string              `json:"priority"`
	Submitter         SubmitterResponse   `json:"submitter"`
	Status            string              `json:"status"`
	MediatorNotes     string              `json:"mediator_notes,omitempty"`
	CoordinationNotes string              `json:"coordination_notes,omitempty"`
	Assignment        *AssignmentResponse `json:"assignment,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
}

type StudentResponse struct {
	Name     string `json:"name"`
	Course   string `json:"course,omitempty"`
	Semester string `json:"semester,omitempty"`
}

type ProjectResponse struct {
	ID        string           `json:"id"`
	IdeaID    string           `json:"idea_id"`
	Title     string           `json:"title"`
	Category  string           `json:"category"`
	Priority  string           `json:"priority"`
	Status    string           `json:"status"`
	Progress  int              `json:"progress"`
	Student   *StudentResponse `json:"student,omitempty"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

type ProjectUpdateResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type pagedIdeas struct {
	Items      []IdeaResponse `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

type pagedProjects struct {
	Items      []ProjectResponse `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

func ideaResponse(i domain.Idea) IdeaResponse {
	r := IdeaResponse{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		Category:    i.Category,
		Priority:    i.Priority,
		Submitter: SubmitterResponse{
			Name:  i.Submitter.Name,
			Email: i.Submitter.Email,
			Phone: i.Submitter.Phone,
		},
		Status:            i.Status,
		MediatorNotes:     i.MediatorNotes,
		CoordinationNotes: i.CoordinationNotes,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
	if i.Assignment != nil {
		r.Assignment = &AssignmentResponse{
			Course:    i.Assignment.Course,
			Class:     i.Assignment.Class,
			Semester:  i.Assignment.Semester,
			Professor: i.Assignment.Professor,
		}
	}
	return r
}

func projectResponse(p domain.Project) ProjectResponse {
	r := ProjectResponse{
		ID:        p.ID,
		IdeaID:    p.IdeaID,
		Title:     p.Title,
		Category:  p.Category,
		Priority:  p.Priority,
		Status:    p.Status,
		Progress:  p.Progress,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Student != nil {
		r.Student = &StudentResponse{
			Name:     p.Student.Name,
			Course:   p.Student.Course,
			Semester: p.Student.Semester,
		}
	}
	return r
}

func updateResponse(u domain.ProjectUpdate) ProjectUpdateResponse {
	return ProjectUpdateResponse{
		ID:        u.ID,
		ProjectID: u.ProjectID,
		Author:    u.Author,
		Message:   u.Message,
		CreatedAt: u.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapIdeas(items []domain.Idea) []IdeaResponse {
	res := make([]IdeaResponse, 0, len(items))
	for _, i := range items {
		res = append(res, ideaResponse(i))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
