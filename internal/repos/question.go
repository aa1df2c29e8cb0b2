package repos

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/dbctx"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// Filter describes the /questions/filter surface: scalar equality,
// case-insensitive substring on title, and label-name membership with OR
// within a key and AND across keys.
type Filter struct {
	Title       string
	AIGenerated *bool
	IsAdaptive  *bool
	CreatedBy   string
	UserID      *int64
	Topics      []string
	Languages   []string
	QTypes      []string
}

func (f Filter) Empty() bool {
	return f.Title == "" && f.AIGenerated == nil && f.IsAdaptive == nil &&
		f.CreatedBy == "" && f.UserID == nil &&
		len(f.Topics) == 0 && len(f.Languages) == 0 && len(f.QTypes) == 0
}

type QuestionRepo interface {
	Create(dbc dbctx.Context, q *types.Question) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Question, error)
	List(dbc dbctx.Context, f Filter, offset, limit int) ([]*types.Question, error)
	ListAll(dbc dbctx.Context) ([]*types.Question, error)
	Save(dbc dbctx.Context, q *types.Question) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, fields map[string]interface{}) error
	SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error
	FullDeleteByID(dbc dbctx.Context, id uuid.UUID) error
	ReplaceTopics(dbc dbctx.Context, q *types.Question, labels []*types.Topic) error
	ReplaceLanguages(dbc dbctx.Context, q *types.Question, labels []*types.Language) error
	ReplaceQTypes(dbc dbctx.Context, q *types.Question, labels []*types.QType) error
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return &questionRepo{db: db, log: baseLog.With("repo", "QuestionRepo")}
}

func (r *questionRepo) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if dbc.Ctx != nil {
		tx = tx.WithContext(dbc.Ctx)
	}
	return tx
}

func (r *questionRepo) Create(dbc dbctx.Context, q *types.Question) error {
	return r.handle(dbc).Create(q).Error
}

func (r *questionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Question, error) {
	var q types.Question
	err := r.handle(dbc).
		Preload("Topics").
		Preload("Languages").
		Preload("QTypes").
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionRepo) List(dbc dbctx.Context, f Filter, offset, limit int) ([]*types.Question, error) {
	tx := r.handle(dbc).
		Model(&types.Question{}).
		Preload("Topics").
		Preload("Languages").
		Preload("QTypes")
	tx = applyFilter(tx, f)
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []*types.Question
	if err := tx.Order("created_at DESC, id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *questionRepo) ListAll(dbc dbctx.Context) ([]*types.Question, error) {
	var out []*types.Question
	if err := r.handle(dbc).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *questionRepo) Save(dbc dbctx.Context, q *types.Question) error {
	return r.handle(dbc).Save(q).Error
}

func (r *questionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, fields map[string]interface{}) error {
	return r.handle(dbc).
		Model(&types.Question{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *questionRepo) SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	return r.handle(dbc).Where("id = ?", id).Delete(&types.Question{}).Error
}

func (r *questionRepo) FullDeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	tx := r.handle(dbc)
	q := types.Question{ID: id}
	// Join rows first; label rows themselves outlive questions.
	if err := tx.Model(&q).Association("Topics").Clear(); err != nil {
		return err
	}
	if err := tx.Model(&q).Association("Languages").Clear(); err != nil {
		return err
	}
	if err := tx.Model(&q).Association("QTypes").Clear(); err != nil {
		return err
	}
	return tx.Unscoped().Where("id = ?", id).Delete(&types.Question{}).Error
}

func (r *questionRepo) ReplaceTopics(dbc dbctx.Context, q *types.Question, labels []*types.Topic) error {
	return r.handle(dbc).Model(q).Association("Topics").Replace(labels)
}

func (r *questionRepo) ReplaceLanguages(dbc dbctx.Context, q *types.Question, labels []*types.Language) error {
	return r.handle(dbc).Model(q).Association("Languages").Replace(labels)
}

func (r *questionRepo) ReplaceQTypes(dbc dbctx.Context, q *types.Question, labels []*types.QType) error {
	return r.handle(dbc).Model(q).Association("QTypes").Replace(labels)
}

// applyFilter composes the filter builder. LOWER(...) LIKE keeps the
// substring match case-insensitive on both postgres and sqlite.
func applyFilter(tx *gorm.DB, f Filter) *gorm.DB {
	if t := strings.TrimSpace(f.Title); t != "" {
		tx = tx.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(t)+"%")
	}
	if f.AIGenerated != nil {
		tx = tx.Where("ai_generated = ?", *f.AIGenerated)
	}
	if f.IsAdaptive != nil {
		tx = tx.Where("is_adaptive = ?", *f.IsAdaptive)
	}
	if c := strings.TrimSpace(f.CreatedBy); c != "" {
		tx = tx.Where("created_by = ?", c)
	}
	if f.UserID != nil {
		tx = tx.Where("user_id = ?", *f.UserID)
	}
	if names := types.CanonicalNames(f.Topics); len(names) > 0 {
		tx = tx.Where(
			"question.id IN (?)",
			tx.Session(&gorm.Session{NewDB: true}).
				Table("question_topic").
				Select("question_topic.question_id").
				Joins("JOIN topic ON topic.id = question_topic.topic_id").
				Where("topic.name IN ?", names),
		)
	}
	if names := types.CanonicalNames(f.Languages); len(names) > 0 {
		tx = tx.Where(
			"question.id IN (?)",
			tx.Session(&gorm.Session{NewDB: true}).
				Table("question_language").
				Select("question_language.question_id").
				Joins("JOIN language ON language.id = question_language.language_id").
				Where("language.name IN ?", names),
		)
	}
	if names := types.CanonicalNames(f.QTypes); len(names) > 0 {
		tx = tx.Where(
			"question.id IN (?)",
			tx.Session(&gorm.Session{NewDB: true}).
				Table("question_qtype").
				Select("question_qtype.question_id").
				Joins("JOIN qtype ON qtype.id = question_qtype.q_type_id").
				Where("qtype.name IN ?", names),
		)
	}
	return tx
}
