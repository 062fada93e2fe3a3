package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// DocumentRecord tracks one ingested file inside a knowledge base. The
// ingestion pipeline writes these; the chat core only reads them to enumerate
// knowledge bases and resolve provenance.
type DocumentRecord struct {
	ID          string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	FileName    string         `gorm:"column:file_name;type:text;not null" json:"file_name"`
	KnowledgeID string         `gorm:"column:knowledge_id;type:text;not null;index" json:"knowledge_id"`
	DocumentIDs datatypes.JSON `gorm:"column:document_ids;type:jsonb" json:"document_ids"`
	SourceURL   *string        `gorm:"column:source_url;type:text" json:"source_url"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (DocumentRecord) TableName() string { return "document_records" }

// DocumentChunk is the unit of retrieval: a bounded excerpt of a source file
// with its embedding vector.
type DocumentChunk struct {
	ID          string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DocumentID  string          `gorm:"column:document_id;type:text;not null;index" json:"document_id"`
	KnowledgeID string          `gorm:"column:knowledge_id;type:text;not null;index" json:"knowledge_id"`
	FileName    string          `gorm:"column:file_name;type:text;not null" json:"file_name"`
	SourceURL   *string         `gorm:"column:source_url;type:text" json:"source_url"`
	Content     string          `gorm:"column:content;type:text;not null" json:"content"`
	Embedding   pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }
