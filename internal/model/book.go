package model

import "time"

// Book identifies a batch of codes belonging to an owning user.
// Codes within a book are distinct strings; the book is immutable once
// its codes are generated, except for metadata.
type Book struct {
	ID          string    `json:"book_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CodeLength  int       `json:"code_length"`
	CodeCount   int       `json:"code_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateBookRequest is the DTO for creating a book.
type CreateBookRequest struct {
	Name        string `json:"name" validate:"required,notblank,max=255"`
	Description string `json:"description" validate:"max=1024"`
	OwnerID     string `json:"owner_id" validate:"required,notblank,max=255"`
	CodeLength  *int   `json:"code_length" validate:"omitempty,gte=4,lte=50"`
}

// GenerateCodesRequest is the DTO for generating codes into a book.
type GenerateCodesRequest struct {
	Count  *int `json:"count" validate:"required,gte=1,lte=100000"`
	Length *int `json:"length" validate:"omitempty,gte=4,lte=50"`
}

// UploadCodesRequest is the DTO for uploading caller-supplied codes.
type UploadCodesRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,max=100000,dive,notblank,max=50"`
}

// CodeBatchResponse reports the outcome of a generate or upload call.
type CodeBatchResponse struct {
	BookID       string   `json:"book_id"`
	CodesCreated int      `json:"codes_created"`
	Codes        []string `json:"codes,omitempty"`
}
