package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question is the persistent record for one generated or uploaded question.
// Exactly one storage pointer is populated for a live record: LocalPath for
// the local backend, BucketName+BlobName for the object store.
type Question struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null;index" json:"title"`
	AIGenerated bool      `gorm:"column:ai_generated;not null;default:false" json:"ai_generated"`
	IsAdaptive  bool      `gorm:"column:is_adaptive;not null;default:false" json:"is_adaptive"`
	CreatedBy   string    `gorm:"column:created_by" json:"created_by"`
	UserID      *int64    `gorm:"column:user_id;index" json:"user_id,omitempty"`

	LocalPath  *string `gorm:"column:local_path" json:"local_path,omitempty"`
	BucketName *string `gorm:"column:bucket_name" json:"bucket_name,omitempty"`
	BlobName   *string `gorm:"column:blob_name" json:"blob_name,omitempty"`

	// GenMeta holds generation provenance for AI-built questions: the
	// review verdicts and iteration count of the pipeline run.
	GenMeta datatypes.JSON `gorm:"column:gen_meta" json:"gen_meta,omitempty"`

	SizeBytes        *int64     `gorm:"column:size_bytes" json:"size_bytes,omitempty"`
	ContentType      *string    `gorm:"column:content_type" json:"content_type,omitempty"`
	MD5              *string    `gorm:"column:md5" json:"md5,omitempty"`
	StorageUpdatedAt *time.Time `gorm:"column:storage_updated_at" json:"storage_updated_at,omitempty"`

	Topics    []*Topic    `gorm:"many2many:question_topic" json:"topics,omitempty"`
	Languages []*Language `gorm:"many2many:question_language" json:"languages,omitempty"`
	QTypes    []*QType    `gorm:"many2many:question_qtype" json:"qtypes,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Question) TableName() string { return "question" }

// BeforeCreate assigns an id client-side when none is set, so creates work
// the same on postgres and the sqlite used in tests.
func (q *Question) BeforeCreate(*gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// StoragePrefix returns the record's storage pointer regardless of backend.
// Empty when the record has never been bound to storage.
func (q *Question) StoragePrefix() string {
	if q.LocalPath != nil && *q.LocalPath != "" {
		return *q.LocalPath
	}
	if q.BlobName != nil && *q.BlobName != "" {
		return *q.BlobName
	}
	return ""
}

type Topic struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null;uniqueIndex" json:"name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Topic) TableName() string { return "topic" }

func (t *Topic) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Language struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null;uniqueIndex" json:"name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Language) TableName() string { return "language" }

func (l *Language) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

type QType struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null;uniqueIndex" json:"name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (QType) TableName() string { return "qtype" }

func (t *QType) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// QuestionMeta is the transport projection of a Question plus its label
// names. The descriptor persisted into a question prefix is the narrower
// Descriptor shape.
type QuestionMeta struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	AIGenerated bool      `json:"ai_generated"`
	IsAdaptive  bool      `json:"is_adaptive"`
	CreatedBy   string    `json:"created_by"`
	UserID      *int64    `json:"user_id,omitempty"`

	Topics    []string `json:"topics"`
	Languages []string `json:"languages"`
	QTypes    []string `json:"qtypes"`

	LocalPath  *string `json:"local_path,omitempty"`
	BucketName *string `json:"bucket_name,omitempty"`
	BlobName   *string `json:"blob_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta projects a loaded Question (labels preloaded) into its transport shape.
func (q *Question) Meta() QuestionMeta {
	m := QuestionMeta{
		ID:          q.ID,
		Title:       q.Title,
		AIGenerated: q.AIGenerated,
		IsAdaptive:  q.IsAdaptive,
		CreatedBy:   q.CreatedBy,
		UserID:      q.UserID,
		LocalPath:   q.LocalPath,
		BucketName:  q.BucketName,
		BlobName:    q.BlobName,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
		Topics:      make([]string, 0, len(q.Topics)),
		Languages:   make([]string, 0, len(q.Languages)),
		QTypes:      make([]string, 0, len(q.QTypes)),
	}
	for _, t := range q.Topics {
		m.Topics = append(m.Topics, t.Name)
	}
	for _, l := range q.Languages {
		m.Languages = append(m.Languages, l.Name)
	}
	for _, qt := range q.QTypes {
		m.QTypes = append(m.QTypes, qt.Name)
	}
	return m
}
