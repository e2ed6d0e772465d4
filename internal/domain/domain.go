package domain

// Actor is an authenticated identity with exactly one role. Callers resolve
// the actor once per request and pass it explicitly into every workflow
// operation; nothing in the core reads ambient session state.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role" enum:"comunidade,estudante,mediador,coordenacao"`
}

type Submitter struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Assignment is attached when an idea moves to atribuida. All four fields
// are required.
type Assignment struct {
	Course    string `json:"course"`
	Class     string `json:"class"`
	Semester  string `json:"semester"`
	Professor string `json:"professor"`
}

type Idea struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Category          string      `json:"category"`
	Priority          string      `json:"priority" enum:"baixa,media,alta,urgente"`
	Submitter         Submitter   `json:"submitter"`
	Status            string      `json:"status" enum:"pendente,em_analise,aprovada,rejeitada,atribuida"`
	MediatorNotes     string      `json:"mediator_notes,omitempty"`
	CoordinationNotes string      `json:"coordination_notes,omitempty"`
	Assignment        *Assignment `json:"assignment,omitempty"`
	CreatedAt         string      `json:"created_at" format:"date-time"`
	UpdatedAt         string      `json:"updated_at" format:"date-time"`
}

// Student is the owner recorded on a project once an estudante claims it.
type Student struct {
	ActorID  string `json:"actor_id"`
	Name     string `json:"name"`
	Course   string `json:"course,omitempty"`
	Semester string `json:"semester,omitempty"`
}

// Project is the post-assignment view of an idea once class work begins.
type Project struct {
	ID        string   `json:"id"`
	IdeaID    string   `json:"idea_id"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Priority  string   `json:"priority" enum:"baixa,media,alta,urgente"`
	Status    string   `json:"status" enum:"em_desenvolvimento,testando,concluido,suspenso"`
	Progress  int      `json:"progress"`
	Student   *Student `json:"student,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type ProjectUpdate struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
