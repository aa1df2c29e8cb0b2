package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/dbctx"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/repos"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// SyncStatus classifies one storage prefix during a forward sweep.
type SyncStatus string

const (
	StatusSynced          SyncStatus = "synced"
	StatusMissingMetadata SyncStatus = "missing_metadata"
	StatusInvalidMetadata SyncStatus = "invalid_metadata"
	StatusMissingID       SyncStatus = "missing_id"
	StatusNotInDatabase   SyncStatus = "not_in_database"
	StatusRepaired        SyncStatus = "repaired"
	StatusFailed          SyncStatus = "failed"
)

// Prefixes that are never question packages.
var reservedPrefixes = map[string]bool{"downloads": true}

type PrefixStatus struct {
	Prefix     string     `json:"prefix"`
	Status     SyncStatus `json:"status"`
	QuestionID string     `json:"question_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

type SyncReport struct {
	Checked  int            `json:"checked"`
	Synced   int            `json:"synced"`
	Repaired int            `json:"repaired"`
	Failed   int            `json:"failed"`
	Entries  []PrefixStatus `json:"entries"`
}

type PruneReport struct {
	Checked       int      `json:"checked"`
	DeletedFromDB int      `json:"deleted_from_db"`
	StillValid    int      `json:"still_valid"`
	Errors        []string `json:"errors,omitempty"`
}

// SyncService reconciles the database with the storage tree in both
// directions. Sweeps are mutually exclusive: a second sweep while one is
// running is refused rather than queued.
type SyncService struct {
	log       *logger.Logger
	db        *gorm.DB
	store     storage.Store
	questions repos.QuestionRepo
	qsvc      *QuestionService

	sweep sync.Mutex
}

func NewSyncService(log *logger.Logger, db *gorm.DB, store storage.Store, qsvc *QuestionService) *SyncService {
	return &SyncService{
		log:       log.With("service", "SyncService"),
		db:        db,
		store:     store,
		questions: repos.NewQuestionRepo(db, log),
		qsvc:      qsvc,
	}
}

func (s *SyncService) acquire() error {
	if !s.sweep.TryLock() {
		return apierr.Newf(apierr.KindConflict, "a sync or prune sweep is already running")
	}
	return nil
}

// CheckUnsync classifies every prefix without mutating anything.
func (s *SyncService) CheckUnsync(ctx context.Context) ([]PrefixStatus, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.sweep.Unlock()

	prefixes, err := s.listCandidatePrefixes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PrefixStatus, 0, len(prefixes))
	for _, prefix := range prefixes {
		out = append(out, s.classify(ctx, prefix))
	}
	return out, nil
}

// SyncQuestions runs the forward sweep: each prefix that carries usable
// metadata but no database row gains a row, a canonical prefix name, a
// bound pointer, and a refreshed descriptor. One bad prefix never aborts
// the sweep.
func (s *SyncService) SyncQuestions(ctx context.Context) (*SyncReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.sweep.Unlock()

	prefixes, err := s.listCandidatePrefixes(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	for _, prefix := range prefixes {
		report.Checked++
		st := s.classify(ctx, prefix)
		switch st.Status {
		case StatusSynced:
			report.Synced++
		case StatusNotInDatabase, StatusMissingID:
			repaired := s.adopt(ctx, prefix, st)
			if repaired.Status == StatusRepaired {
				report.Repaired++
			} else {
				report.Failed++
			}
			st = repaired
		default:
			report.Failed++
		}
		report.Entries = append(report.Entries, st)
	}
	s.log.Info("Forward sync complete",
		"checked", report.Checked, "synced", report.Synced,
		"repaired", report.Repaired, "failed", report.Failed)
	return report, nil
}

// PruneMissing runs the reverse sweep: rows whose storage pointer is empty
// or whose prefix no longer exists are deleted from the database.
func (s *SyncService) PruneMissing(ctx context.Context) (*PruneReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.sweep.Unlock()

	rows, err := s.questions.ListAll(dbctx.New(ctx))
	if err != nil {
		return nil, apierr.New(apierr.KindDBIO, err)
	}

	report := &PruneReport{}
	for _, q := range rows {
		report.Checked++
		prefix := q.StoragePrefix()
		if prefix == "" {
			if derr := s.questions.FullDeleteByID(dbctx.New(ctx), q.ID); derr != nil {
				report.Errors = append(report.Errors, q.ID.String()+": "+derr.Error())
				continue
			}
			report.DeletedFromDB++
			continue
		}
		exists, serr := s.store.PrefixExists(ctx, prefix)
		if serr != nil {
			report.Errors = append(report.Errors, q.ID.String()+": "+serr.Error())
			continue
		}
		if !exists {
			if derr := s.questions.FullDeleteByID(dbctx.New(ctx), q.ID); derr != nil {
				report.Errors = append(report.Errors, q.ID.String()+": "+derr.Error())
				continue
			}
			s.log.Info("Pruned question with missing prefix", "question_id", q.ID.String(), "prefix", prefix)
			report.DeletedFromDB++
			continue
		}
		report.StillValid++
	}
	s.log.Info("Prune complete",
		"checked", report.Checked, "deleted_from_db", report.DeletedFromDB,
		"still_valid", report.StillValid, "errors", len(report.Errors))
	return report, nil
}

func (s *SyncService) listCandidatePrefixes(ctx context.Context) ([]string, error) {
	prefixes, err := s.store.ListPrefixes(ctx)
	if err != nil {
		return nil, apierr.New(apierr.KindStorageIO, err)
	}
	out := prefixes[:0]
	for _, p := range prefixes {
		if reservedPrefixes[strings.ToLower(p)] {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// readDescriptor loads metadata.json, falling back to the legacy info.json
// name.
func (s *SyncService) readDescriptor(ctx context.Context, prefix string) ([]byte, error) {
	data, err := s.store.ReadFile(ctx, prefix, types.FileMetadata)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotExist) {
		return nil, err
	}
	return s.store.ReadFile(ctx, prefix, "info.json")
}

func (s *SyncService) classify(ctx context.Context, prefix string) PrefixStatus {
	data, err := s.readDescriptor(ctx, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return PrefixStatus{Prefix: prefix, Status: StatusMissingMetadata}
		}
		return PrefixStatus{Prefix: prefix, Status: StatusFailed, Detail: err.Error()}
	}
	desc, err := types.ParseDescriptor(data)
	if err != nil {
		return PrefixStatus{Prefix: prefix, Status: StatusInvalidMetadata, Detail: err.Error()}
	}
	if strings.TrimSpace(desc.ID) == "" {
		return PrefixStatus{Prefix: prefix, Status: StatusMissingID}
	}
	id, err := uuid.Parse(desc.ID)
	if err != nil {
		return PrefixStatus{Prefix: prefix, Status: StatusInvalidMetadata, Detail: "id is not a uuid: " + desc.ID}
	}
	if _, err := s.questions.GetByID(dbctx.New(ctx), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PrefixStatus{Prefix: prefix, Status: StatusNotInDatabase, QuestionID: desc.ID}
		}
		return PrefixStatus{Prefix: prefix, Status: StatusFailed, Detail: err.Error()}
	}
	return PrefixStatus{Prefix: prefix, Status: StatusSynced, QuestionID: desc.ID}
}

// adopt creates the database row for a prefix that carries usable metadata,
// renames the prefix to its canonical form, and rewrites the descriptor so
// the stored id matches the row.
func (s *SyncService) adopt(ctx context.Context, prefix string, st PrefixStatus) PrefixStatus {
	data, err := s.readDescriptor(ctx, prefix)
	if err != nil {
		return PrefixStatus{Prefix: prefix, Status: StatusFailed, Detail: err.Error()}
	}
	desc, err := types.ParseDescriptor(data)
	if err != nil {
		return PrefixStatus{Prefix: prefix, Status: StatusFailed, Detail: err.Error()}
	}
	title := strings.TrimSpace(desc.Title)
	if title == "" {
		title = prefix
	}

	var created *types.Question
	var canonical string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx).WithTx(tx)

		q := &types.Question{
			Title:       title,
			AIGenerated: desc.AIGenerated,
			IsAdaptive:  desc.IsAdaptive,
			CreatedBy:   desc.CreatedBy,
			UserID:      desc.UserID,
		}
		if st.Status == StatusNotInDatabase {
			if id, perr := uuid.Parse(desc.ID); perr == nil {
				q.ID = id
			}
		}
		if cerr := s.questions.Create(dbc, q); cerr != nil {
			return cerr
		}
		if lerr := s.qsvc.applyLabels(dbc, q, desc.Topics, desc.Languages, desc.QTypes, true); lerr != nil {
			return lerr
		}

		// The prefix may already carry its canonical name; only treat an
		// existing prefix as a collision when it is somebody else's.
		if base := safeTitle(q.Title) + "_" + shortID(q.ID); base == prefix {
			canonical = prefix
		} else {
			canonical, err = s.qsvc.prefixFor(ctx, q)
			if err != nil {
				return err
			}
		}
		if canonical != prefix {
			if rerr := s.store.RenamePrefix(ctx, prefix, canonical); rerr != nil {
				return rerr
			}
		}
		fields := s.qsvc.bindPointer(q, canonical)
		if uerr := s.questions.UpdateFields(dbc, q.ID, fields); uerr != nil {
			return uerr
		}
		created = q
		return nil
	})
	if err != nil {
		// Roll the rename back so the tree matches the database again.
		if canonical != "" && canonical != prefix {
			if rerr := s.store.RenamePrefix(context.WithoutCancel(ctx), canonical, prefix); rerr != nil {
				s.log.Warn("Failed to undo prefix rename", "from", canonical, "to", prefix, "error", rerr.Error())
			}
		}
		s.log.Warn("Failed to adopt prefix", "prefix", prefix, "error", err.Error())
		return PrefixStatus{Prefix: prefix, Status: StatusFailed, Detail: err.Error()}
	}

	if derr := s.qsvc.writeDescriptor(ctx, created, canonical); derr != nil {
		s.log.Warn("Failed to refresh descriptor after adopt", "prefix", canonical, "error", derr.Error())
	}
	s.log.Info("Adopted storage prefix", "prefix", prefix, "canonical", canonical, "question_id", created.ID.String())
	return PrefixStatus{Prefix: canonical, Status: StatusRepaired, QuestionID: created.ID.String()}
}

// MarshalReport pretty-prints a sweep report for the admin CLI.
func MarshalReport(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
