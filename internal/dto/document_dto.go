package dto

import (
	"time"

	"github.com/google/uuid"
)

type SectionPayload struct {
	Id       string `json:"id" validate:"required,max=128"`
	Title    string `json:"title" validate:"max=255"`
	Content  string `json:"content"`
	Editable *bool  `json:"editable"`
}

type SectionResponse struct {
	Id       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
}

type CreateDocumentRequest struct {
	ProjectId   uuid.UUID        `json:"project_id" validate:"required"`
	Name        string           `json:"name" validate:"required,max=255"`
	Sensitivity string           `json:"sensitivity" validate:"omitempty,oneof=public internal confidential"`
	TemplateRef string           `json:"template_ref" validate:"max=255"`
	Sections    []SectionPayload `json:"sections" validate:"required,min=1,dive"`
}

type CreateDocumentResponse struct {
	Id            uuid.UUID `json:"id"`
	VersionNumber int       `json:"version_number"`
}

type ShowDocumentResponse struct {
	Id             uuid.UUID        `json:"id"`
	ProjectId      uuid.UUID        `json:"project_id"`
	Name           string           `json:"name"`
	Sensitivity    string           `json:"sensitivity,omitempty"`
	TemplateRef    string           `json:"template_ref,omitempty"`
	CurrentVersion *VersionResponse `json:"current_version"`
	Locks          []*LockResponse  `json:"locks"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      *time.Time       `json:"updated_at"`
}

type VersionResponse struct {
	Id            uuid.UUID         `json:"id"`
	DocumentId    uuid.UUID         `json:"document_id"`
	VersionNumber int               `json:"version_number"`
	AuthorId      uuid.UUID         `json:"author_id"`
	Sections      []SectionResponse `json:"sections"`
	CreatedAt     time.Time         `json:"created_at"`
}

type VersionSummaryResponse struct {
	Id            uuid.UUID `json:"id"`
	VersionNumber int       `json:"version_number"`
	AuthorId      uuid.UUID `json:"author_id"`
	SectionCount  int       `json:"section_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type SaveVersionRequest struct {
	Sections []SectionPayload `json:"sections" validate:"required,min=1,dive"`
}

type CommitSectionRequest struct {
	Content string `json:"content"`
	// Seq orders commits of one editor within a lease; 0 skips the check.
	Seq uint64 `json:"seq"`
}

type CommitSectionResponse struct {
	VersionNumber int `json:"version_number"`
}
