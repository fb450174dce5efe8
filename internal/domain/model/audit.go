package model

import (
	"encoding/json"
	"time"
)

// AuditAction — вид действия в журнале аудита.
type AuditAction string

const (
	ActionCreate   AuditAction = "create"
	ActionRead     AuditAction = "read"
	ActionUpdate   AuditAction = "update"
	ActionDelete   AuditAction = "delete"
	ActionLogin    AuditAction = "login"
	ActionLogout   AuditAction = "logout"
	ActionDownload AuditAction = "download"
	ActionUpload   AuditAction = "upload"
)

// EntityType — тип сущности, над которой выполнено действие.
type EntityType string

const (
	EntityUser          EntityType = "user"
	EntityPatient       EntityType = "patient"
	EntityMedicalRecord EntityType = "medical_record"
	EntityDocument      EntityType = "document"
	EntityChecklist     EntityType = "checklist"
)

// AuditEntry — неизменяемая запись журнала аудита.
// ActorID и EntityID равны nil для системных/анонимных событий.
type AuditEntry struct {
	ID         string          `json:"id"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Action     AuditAction     `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   *string         `json:"entity_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	ClientInfo string          `json:"client_info,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Origin — источник запроса: адрес и клиент.
// Заполняется транспортным слоем и передаётся в сервисы.
type Origin struct {
	Address    string
	ClientInfo string
}
