package repos

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/dbctx"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// LabelRepo resolves name-unique label entities (Topic, Language, QType).
// Names are canonicalized before every compare or insert, which keeps the
// case-insensitive uniqueness invariant at this single choke point.
type LabelRepo[T any] interface {
	GetByNames(dbc dbctx.Context, names []string) ([]*T, error)
	Resolve(dbc dbctx.Context, names []string, create bool) ([]*T, error)
	List(dbc dbctx.Context) ([]*T, error)
}

type labelRepo[T any] struct {
	db     *gorm.DB
	log    *logger.Logger
	make   func(name string) *T
	nameOf func(*T) string
}

func NewTopicRepo(db *gorm.DB, baseLog *logger.Logger) LabelRepo[types.Topic] {
	return &labelRepo[types.Topic]{
		db:     db,
		log:    baseLog.With("repo", "TopicRepo"),
		make:   func(name string) *types.Topic { return &types.Topic{Name: name} },
		nameOf: func(t *types.Topic) string { return t.Name },
	}
}

func NewLanguageRepo(db *gorm.DB, baseLog *logger.Logger) LabelRepo[types.Language] {
	return &labelRepo[types.Language]{
		db:     db,
		log:    baseLog.With("repo", "LanguageRepo"),
		make:   func(name string) *types.Language { return &types.Language{Name: name} },
		nameOf: func(l *types.Language) string { return l.Name },
	}
}

func NewQTypeRepo(db *gorm.DB, baseLog *logger.Logger) LabelRepo[types.QType] {
	return &labelRepo[types.QType]{
		db:     db,
		log:    baseLog.With("repo", "QTypeRepo"),
		make:   func(name string) *types.QType { return &types.QType{Name: name} },
		nameOf: func(q *types.QType) string { return q.Name },
	}
}

func (r *labelRepo[T]) handle(dbc dbctx.Context) *gorm.DB {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if dbc.Ctx != nil {
		tx = tx.WithContext(dbc.Ctx)
	}
	return tx
}

func (r *labelRepo[T]) GetByNames(dbc dbctx.Context, names []string) ([]*T, error) {
	canonical := types.CanonicalNames(names)
	if len(canonical) == 0 {
		return []*T{}, nil
	}
	var out []*T
	if err := r.handle(dbc).Where("name IN ?", canonical).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve returns label rows for the given names in first-seen canonical
// order. Missing labels are created when create is true; otherwise the
// call fails naming the first unknown label.
func (r *labelRepo[T]) Resolve(dbc dbctx.Context, names []string, create bool) ([]*T, error) {
	canonical := types.CanonicalNames(names)
	if len(canonical) == 0 {
		return []*T{}, nil
	}
	existing, err := r.GetByNames(dbc, canonical)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*T, len(existing))
	for _, e := range existing {
		byName[r.nameOf(e)] = e
	}
	out := make([]*T, 0, len(canonical))
	for _, name := range canonical {
		if row, ok := byName[name]; ok {
			out = append(out, row)
			continue
		}
		if !create {
			return nil, fmt.Errorf("unknown label %q", name)
		}
		row := r.make(name)
		if err := r.handle(dbc).Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race; the row exists now.
				var again []*T
				if qErr := r.handle(dbc).Where("name = ?", name).Limit(1).Find(&again).Error; qErr == nil && len(again) == 1 {
					out = append(out, again[0])
					continue
				}
			}
			return nil, fmt.Errorf("create label %q: %w", name, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *labelRepo[T]) List(dbc dbctx.Context) ([]*T, error) {
	var out []*T
	if err := r.handle(dbc).Order("name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
