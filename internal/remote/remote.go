// Package remote declares the server APIs the sync engine consumes and their
// wire payloads. Times on the wire are Unix epoch seconds.
package remote

import (
	"context"
	"encoding/json"
)

// RecordItem is a record as listed by the server.
type RecordItem struct {
	ID           string   `json:"id"`
	ContentHash  string   `json:"content_hash,omitempty"`
	DocumentType string   `json:"document_type"`
	Tags         []string `json:"tags,omitempty"`
	DocumentDate int64    `json:"document_date,omitempty"`
	UploadDate   int64    `json:"upload_date,omitempty"`
	UpdatedAt    int64    `json:"updated_at,omitempty"`
	OrgID        string   `json:"oid"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
	CaseIDs      []string `json:"case_ids,omitempty"`
	IsSmart      bool     `json:"is_smart,omitempty"`
	IsAnalyzing  bool     `json:"is_analyzing,omitempty"`
}

type ListRequest struct {
	Cursor    string `json:"cursor,omitempty"`
	PageToken string `json:"page_token,omitempty"`
	OrgID     string `json:"oid"`
}

type ListRecordsResponse struct {
	Items             []RecordItem `json:"items"`
	NextPageToken     string       `json:"next_page_token,omitempty"`
	ServerRefreshedAt int64        `json:"server_refreshed_at,omitempty"`
}

// RecordFields is the editable metadata of a record.
type RecordFields struct {
	DocumentType string   `json:"document_type"`
	DocumentDate int64    `json:"document_date,omitempty"`
	Tags         []string `json:"tags"`
	CaseIDs      []string `json:"case_ids"`
}

type UploadFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
}

// BatchItem is one document of a create-batch request. ClientRef is echoed
// in the matching BatchResponse.
type BatchItem struct {
	ClientRef string       `json:"client_ref"`
	Files     []UploadFile `json:"files"`
	Metadata  RecordFields `json:"metadata"`
}

type CreateBatchRequest struct {
	OrgID string      `json:"oid"`
	Items []BatchItem `json:"items"`
}

// UploadForm is a pre-signed form the file bytes must be posted to.
type UploadForm struct {
	URL      string            `json:"url"`
	Fields   map[string]string `json:"fields,omitempty"`
	FileName string            `json:"file_name"`
}

// BatchResponse carries either upload forms or error details.
type BatchResponse struct {
	ClientRef    string       `json:"client_ref"`
	DocumentID   string       `json:"document_id,omitempty"`
	UploadForms  []UploadForm `json:"upload_forms,omitempty"`
	ErrorDetails string       `json:"error_details,omitempty"`
}

type CreateBatchResponse struct {
	Responses []BatchResponse `json:"batch_responses"`
}

type UpdateRecordRequest struct {
	ID     string       `json:"id"`
	OrgID  string       `json:"oid"`
	Fields RecordFields `json:"fields"`
}

type DocumentRequest struct {
	ID    string `json:"id"`
	OrgID string `json:"oid"`
}

// DeleteResponse carries the HTTP-style status of a delete; 204 confirms it.
type DeleteResponse struct {
	Status int `json:"status"`
}

type RemoteFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type RecordDetails struct {
	Files       []RemoteFile    `json:"files"`
	SmartReport json.RawMessage `json:"smart_report,omitempty"`
}

type CaseItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TypeCode  string `json:"type"`
	OrgID     string `json:"oid"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
	Date      int64  `json:"date,omitempty"`
	Status    string `json:"status,omitempty"`
}

type CaseFields struct {
	Name     string `json:"name"`
	TypeCode string `json:"type"`
	Date     int64  `json:"date,omitempty"`
}

type CreateCaseRequest struct {
	OrgID string   `json:"oid"`
	Case  CaseItem `json:"case"`
}

type UpdateCaseRequest struct {
	ID     string     `json:"id"`
	OrgID  string     `json:"oid"`
	Fields CaseFields `json:"fields"`
}

type ListCasesResponse struct {
	Items             []CaseItem `json:"items"`
	NextPageToken     string     `json:"next_page_token,omitempty"`
	ServerRefreshedAt int64      `json:"server_refreshed_at,omitempty"`
}

// Empty is the payload of calls without a meaningful response.
type Empty struct{}

// RecordsAPI is the server's records surface.
type RecordsAPI interface {
	List(ctx context.Context, cursor, pageToken, oid string) (*ListRecordsResponse, error)
	CreateBatch(ctx context.Context, oid string, items []BatchItem) ([]BatchResponse, error)
	SubmitFile(ctx context.Context, form UploadForm, data []byte) error
	Update(ctx context.Context, id, oid string, fields RecordFields) error
	// Delete returns the server status; only 204 confirms deletion.
	Delete(ctx context.Context, id, oid string) (int, error)
	FetchDetails(ctx context.Context, id, oid string) (*RecordDetails, error)
}

// CasesAPI is the server's cases surface.
type CasesAPI interface {
	Create(ctx context.Context, oid string, c CaseItem) error
	List(ctx context.Context, cursor, pageToken, oid string) (*ListCasesResponse, error)
	Update(ctx context.Context, id, oid string, fields CaseFields) error
	Delete(ctx context.Context, id, oid string) (int, error)
}

// FileSubmitter posts file bytes to an upload form.
type FileSubmitter interface {
	Submit(ctx context.Context, form UploadForm, data []byte) error
}
