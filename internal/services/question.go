package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/dbctx"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/repos"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxPrefixLen     = 48
	lockStripes      = 64
)

// CreateInput is the payload for creating a question record.
type CreateInput struct {
	Title       string   `json:"title"`
	AIGenerated bool     `json:"ai_generated"`
	IsAdaptive  bool     `json:"is_adaptive"`
	CreatedBy   string   `json:"created_by"`
	UserID      *int64   `json:"user_id"`
	Topics      []string `json:"topics"`
	Languages   []string `json:"languages"`
	QTypes      []string `json:"qtypes"`

	// CreateLabels controls whether unknown label names are created on
	// demand. Defaults to true at the HTTP boundary.
	CreateLabels bool `json:"-"`
}

// UpdateInput applies attribute-wise changes. Nil fields are untouched.
type UpdateInput struct {
	Title      *string   `json:"title"`
	IsAdaptive *bool     `json:"is_adaptive"`
	CreatedBy  *string   `json:"created_by"`
	UserID     *int64    `json:"user_id"`
	Topics     *[]string `json:"topics"`
	Languages  *[]string `json:"languages"`
	QTypes     *[]string `json:"qtypes"`

	RenamePrefix bool `json:"rename_prefix"`
	CreateLabels bool `json:"-"`
}

// QuestionService binds Question rows to storage prefixes and owns every
// mutation that touches both.
type QuestionService struct {
	log       *logger.Logger
	db        *gorm.DB
	store     storage.Store
	bucket    string
	questions repos.QuestionRepo
	topics    repos.LabelRepo[types.Topic]
	languages repos.LabelRepo[types.Language]
	qtypes    repos.LabelRepo[types.QType]

	// Per-question write locks, striped by id. Serializes concurrent file
	// edits on the same question without a global bottleneck.
	locks [lockStripes]sync.Mutex
}

func NewQuestionService(log *logger.Logger, db *gorm.DB, store storage.Store, bucket string) *QuestionService {
	return &QuestionService{
		log:       log.With("service", "QuestionService"),
		db:        db,
		store:     store,
		bucket:    bucket,
		questions: repos.NewQuestionRepo(db, log),
		topics:    repos.NewTopicRepo(db, log),
		languages: repos.NewLanguageRepo(db, log),
		qtypes:    repos.NewQTypeRepo(db, log),
	}
}

func (s *QuestionService) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &s.locks[h.Sum32()%lockStripes]
}

// safeTitle replaces filesystem-hostile characters and control runes with
// underscores, collapses runs, trims, and caps the length.
func safeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r), unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if out == "" {
		out = "question"
	}
	if len(out) > maxPrefixLen {
		out = out[:maxPrefixLen]
	}
	return out
}

func shortID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// prefixFor computes the canonical storage prefix for a record, falling back
// to the full id when the short form collides with another record's prefix.
func (s *QuestionService) prefixFor(ctx context.Context, q *types.Question) (string, error) {
	base := safeTitle(q.Title) + "_" + shortID(q.ID)
	exists, err := s.store.PrefixExists(ctx, base)
	if err != nil {
		return "", apierr.New(apierr.KindStorageIO, err)
	}
	if !exists {
		return base, nil
	}
	return safeTitle(q.Title) + "_" + strings.ReplaceAll(q.ID.String(), "-", ""), nil
}

func (s *QuestionService) bindPointer(q *types.Question, prefix string) map[string]interface{} {
	if s.store.Kind() == "cloud" {
		q.BucketName = &s.bucket
		q.BlobName = &prefix
		return map[string]interface{}{"bucket_name": s.bucket, "blob_name": prefix, "local_path": nil}
	}
	q.LocalPath = &prefix
	return map[string]interface{}{"local_path": prefix, "bucket_name": nil, "blob_name": nil}
}

// CreateQuestion persists the row, creates its storage prefix, and binds the
// pointer in one unit of work. The prefix is removed again if the
// transaction fails after creating it.
func (s *QuestionService) CreateQuestion(ctx context.Context, in CreateInput) (*types.QuestionMeta, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apierr.Newf(apierr.KindValidation, "title is required")
	}

	var created *types.Question
	var prefix string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx).WithTx(tx)

		q := &types.Question{
			Title:       title,
			AIGenerated: in.AIGenerated,
			IsAdaptive:  in.IsAdaptive,
			CreatedBy:   in.CreatedBy,
			UserID:      in.UserID,
		}
		if err := s.questions.Create(dbc, q); err != nil {
			return apierr.New(apierr.KindDBIO, err)
		}
		if err := s.applyLabels(dbc, q, in.Topics, in.Languages, in.QTypes, in.CreateLabels); err != nil {
			return err
		}

		var err error
		prefix, err = s.prefixFor(ctx, q)
		if err != nil {
			return err
		}
		if err := s.store.EnsurePrefix(ctx, prefix); err != nil {
			return apierr.New(apierr.KindStorageIO, err)
		}
		fields := s.bindPointer(q, prefix)
		if err := s.questions.UpdateFields(dbc, q.ID, fields); err != nil {
			return apierr.New(apierr.KindDBIO, err)
		}
		created = q
		return nil
	})
	if err != nil {
		if prefix != "" {
			if derr := s.store.DeletePrefix(context.WithoutCancel(ctx), prefix); derr != nil && !errors.Is(derr, storage.ErrNotExist) {
				s.log.Warn("Failed to clean up prefix after rollback", "prefix", prefix, "error", derr.Error())
			}
		}
		return nil, err
	}

	if err := s.writeDescriptor(ctx, created, prefix); err != nil {
		s.log.Warn("Failed to write descriptor", "question_id", created.ID.String(), "error", err.Error())
	}

	full, err := s.questions.GetByID(dbctx.New(ctx), created.ID)
	if err != nil {
		return nil, apierr.New(apierr.KindDBIO, err)
	}
	meta := full.Meta()
	s.log.Info("Question created", "question_id", meta.ID.String(), "prefix", prefix)
	return &meta, nil
}

func (s *QuestionService) applyLabels(dbc dbctx.Context, q *types.Question, topics, languages, qtypes []string, create bool) error {
	// An unknown label with create off is a caller mistake, not an IO fault.
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		if !create {
			return apierr.New(apierr.KindValidation, err)
		}
		return apierr.New(apierr.KindDBIO, err)
	}
	if len(topics) > 0 {
		resolved, err := s.topics.Resolve(dbc, topics, create)
		if err != nil {
			return wrap(err)
		}
		if err := s.questions.ReplaceTopics(dbc, q, resolved); err != nil {
			return apierr.New(apierr.KindDBIO, err)
		}
	}
	if len(languages) > 0 {
		resolved, err := s.languages.Resolve(dbc, languages, create)
		if err != nil {
			return wrap(err)
		}
		if err := s.questions.ReplaceLanguages(dbc, q, resolved); err != nil {
			return apierr.New(apierr.KindDBIO, err)
		}
	}
	if len(qtypes) > 0 {
		resolved, err := s.qtypes.Resolve(dbc, qtypes, create)
		if err != nil {
			return wrap(err)
		}
		if err := s.questions.ReplaceQTypes(dbc, q, resolved); err != nil {
			return apierr.New(apierr.KindDBIO, err)
		}
	}
	return nil
}

func (s *QuestionService) writeDescriptor(ctx context.Context, q *types.Question, prefix string) error {
	loaded, err := s.questions.GetByID(dbctx.New(ctx), q.ID)
	if err != nil {
		return err
	}
	desc := types.DescriptorFromQuestion(loaded)
	content, err := types.ToJSONPretty(desc)
	if err != nil {
		return err
	}
	return s.store.WriteFile(ctx, prefix, types.FileMetadata, []byte(content))
}

func (s *QuestionService) getQuestion(ctx context.Context, id uuid.UUID) (*types.Question, error) {
	q, err := s.questions.GetByID(dbctx.New(ctx), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.Newf(apierr.KindNotFound, "question %s not found", id)
		}
		return nil, apierr.New(apierr.KindDBIO, err)
	}
	return q, nil
}

// GetQuestion returns the transport projection for one question.
func (s *QuestionService) GetQuestion(ctx context.Context, id uuid.UUID) (*types.QuestionMeta, error) {
	q, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := q.Meta()
	return &meta, nil
}

// FullQuestion is a question plus the content of its recognized artifacts.
type FullQuestion struct {
	Meta  types.QuestionMeta `json:"metadata"`
	Files map[string]string  `json:"files"`
}

// GetQuestionFull loads the record and every artifact under its prefix.
func (s *QuestionService) GetQuestionFull(ctx context.Context, id uuid.UUID) (*FullQuestion, error) {
	q, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	prefix := q.StoragePrefix()
	if prefix == "" {
		return &FullQuestion{Meta: q.Meta(), Files: map[string]string{}}, nil
	}
	names, err := s.store.ListFiles(ctx, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apierr.Newf(apierr.KindNotFound, "storage prefix %q missing", prefix)
		}
		return nil, apierr.New(apierr.KindStorageIO, err)
	}
	files := make(map[string]string, len(names))
	for _, name := range names {
		data, rerr := s.store.ReadFile(ctx, prefix, name)
		if rerr != nil {
			return nil, apierr.New(apierr.KindStorageIO, rerr)
		}
		files[name] = string(data)
	}
	return &FullQuestion{Meta: q.Meta(), Files: files}, nil
}

// ListQuestions returns a filtered page of question projections.
func (s *QuestionService) ListQuestions(ctx context.Context, f repos.Filter, offset, limit int) ([]types.QuestionMeta, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.questions.List(dbctx.New(ctx), f, offset, limit)
	if err != nil {
		return nil, apierr.New(apierr.KindDBIO, err)
	}
	out := make([]types.QuestionMeta, 0, len(rows))
	for _, q := range rows {
		out = append(out, q.Meta())
	}
	return out, nil
}

// UpdateQuestion applies attribute and relationship changes. A title change
// with RenamePrefix set also renames the storage prefix; rename failure
// aborts before the record is touched.
func (s *QuestionService) UpdateQuestion(ctx context.Context, id uuid.UUID, in UpdateInput) (*types.QuestionMeta, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	q, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx).WithTx(tx)
		fields := map[string]interface{}{}

		if in.Title != nil && strings.TrimSpace(*in.Title) != "" && *in.Title != q.Title {
			newTitle := strings.TrimSpace(*in.Title)
			fields["title"] = newTitle
			if in.RenamePrefix && q.StoragePrefix() != "" {
				q.Title = newTitle
				newPrefix, perr := s.prefixFor(ctx, q)
				if perr != nil {
					return perr
				}
				oldPrefix := q.StoragePrefix()
				if newPrefix != oldPrefix {
					if rerr := s.store.RenamePrefix(ctx, oldPrefix, newPrefix); rerr != nil {
						return apierr.New(apierr.KindStorageIO, fmt.Errorf("rename prefix: %w", rerr))
					}
					for k, v := range s.bindPointer(q, newPrefix) {
						fields[k] = v
					}
				}
			}
		}
		if in.IsAdaptive != nil {
			fields["is_adaptive"] = *in.IsAdaptive
		}
		if in.CreatedBy != nil {
			fields["created_by"] = *in.CreatedBy
		}
		if in.UserID != nil {
			fields["user_id"] = *in.UserID
		}
		if len(fields) > 0 {
			if uerr := s.questions.UpdateFields(dbc, id, fields); uerr != nil {
				return apierr.New(apierr.KindDBIO, uerr)
			}
		}

		var topics, languages, qtypes []string
		if in.Topics != nil {
			topics = *in.Topics
		}
		if in.Languages != nil {
			languages = *in.Languages
		}
		if in.QTypes != nil {
			qtypes = *in.QTypes
		}
		return s.applyLabels(dbc, q, topics, languages, qtypes, in.CreateLabels)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.getQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if prefix := updated.StoragePrefix(); prefix != "" {
		if derr := s.writeDescriptor(ctx, updated, prefix); derr != nil {
			s.log.Warn("Failed to refresh descriptor", "question_id", id.String(), "error", derr.Error())
		}
	}
	meta := updated.Meta()
	return &meta, nil
}

// DeleteQuestion removes the row and best-effort deletes the prefix. A
// missing prefix is logged and treated as success.
func (s *QuestionService) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	q, err := s.getQuestion(ctx, id)
	if err != nil {
		return err
	}
	prefix := q.StoragePrefix()

	if err := s.questions.FullDeleteByID(dbctx.New(ctx), id); err != nil {
		return apierr.New(apierr.KindDBIO, err)
	}
	if prefix != "" {
		if err := s.store.DeletePrefix(ctx, prefix); err != nil && !errors.Is(err, storage.ErrNotExist) {
			s.log.Warn("Prefix delete failed after row delete", "question_id", id.String(), "prefix", prefix, "error", err.Error())
		}
	}
	s.log.Info("Question deleted", "question_id", id.String(), "prefix", prefix)
	return nil
}

// SaveFile writes one artifact. Content may be a string, raw bytes, or a
// structured value; structured values are serialized with two-space indent.
// Empty content is refused.
func (s *QuestionService) SaveFile(ctx context.Context, id uuid.UUID, name string, content any, overwrite bool) error {
	if err := storage.ValidateName(name); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	data, err := encodeContent(content)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return apierr.Newf(apierr.KindValidation, "refusing to write empty content to %q", name)
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	prefix, err := s.prefixOf(ctx, id)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, serr := s.store.StatFile(ctx, prefix, name); serr == nil {
			return apierr.Newf(apierr.KindConflict, "file %q already exists", name)
		} else if !errors.Is(serr, storage.ErrNotExist) {
			return apierr.New(apierr.KindStorageIO, serr)
		}
	}
	if err := s.store.WriteFile(ctx, prefix, name, data); err != nil {
		return apierr.New(apierr.KindStorageIO, err)
	}
	return nil
}

// ReadFile returns one artifact's bytes.
func (s *QuestionService) ReadFile(ctx context.Context, id uuid.UUID, name string) ([]byte, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, apierr.New(apierr.KindValidation, err)
	}
	prefix, err := s.prefixOf(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.store.ReadFile(ctx, prefix, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apierr.Newf(apierr.KindNotFound, "file %q not found", name)
		}
		return nil, apierr.New(apierr.KindStorageIO, err)
	}
	return data, nil
}

// ListFiles names every artifact under the question's prefix.
func (s *QuestionService) ListFiles(ctx context.Context, id uuid.UUID) ([]string, error) {
	prefix, err := s.prefixOf(ctx, id)
	if err != nil {
		return nil, err
	}
	names, err := s.store.ListFiles(ctx, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apierr.Newf(apierr.KindNotFound, "storage prefix %q missing", prefix)
		}
		return nil, apierr.New(apierr.KindStorageIO, err)
	}
	return names, nil
}

// DeleteFile removes one artifact; deleting an absent file is not an error.
func (s *QuestionService) DeleteFile(ctx context.Context, id uuid.UUID, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	prefix, err := s.prefixOf(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, prefix, name); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return apierr.New(apierr.KindStorageIO, err)
	}
	return nil
}

// SetGenMeta attaches generation provenance to an AI-generated question.
func (s *QuestionService) SetGenMeta(ctx context.Context, id uuid.UUID, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	fields := map[string]interface{}{"gen_meta": datatypes.JSON(raw)}
	if err := s.questions.UpdateFields(dbctx.New(ctx), id, fields); err != nil {
		return apierr.New(apierr.KindDBIO, err)
	}
	return nil
}

func (s *QuestionService) prefixOf(ctx context.Context, id uuid.UUID) (string, error) {
	q, err := s.getQuestion(ctx, id)
	if err != nil {
		return "", err
	}
	prefix := q.StoragePrefix()
	if prefix == "" {
		return "", apierr.Newf(apierr.KindNotFound, "question %s has no storage prefix", id)
	}
	return prefix, nil
}

func encodeContent(content any) ([]byte, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		text, err := types.ToJSONPretty(v)
		if err != nil {
			return nil, apierr.Newf(apierr.KindValidation, "unencodable content: %v", err)
		}
		return []byte(text), nil
	}
}
