package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

func testSyncService(t *testing.T) (*SyncService, *QuestionService, *storage.LocalStore) {
	t.Helper()
	log := logger.Nop()
	store, err := storage.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	db := testDB(t)
	qsvc := NewQuestionService(log, db, store, "")
	return NewSyncService(log, db, store, qsvc), qsvc, store
}

func seedPrefix(t *testing.T, store *storage.LocalStore, prefix string, desc any) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsurePrefix(ctx, prefix); err != nil {
		t.Fatalf("ensure %q: %v", prefix, err)
	}
	if desc == nil {
		return
	}
	var data []byte
	switch v := desc.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal descriptor: %v", err)
		}
	}
	if err := store.WriteFile(ctx, prefix, types.FileMetadata, data); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
}

func statusFor(entries []PrefixStatus, prefix string) (PrefixStatus, bool) {
	for _, e := range entries {
		if e.Prefix == prefix {
			return e, true
		}
	}
	return PrefixStatus{}, false
}

func TestCheckUnsyncClassifiesPrefixes(t *testing.T) {
	sync, qsvc, store := testSyncService(t)
	ctx := context.Background()

	// A fully managed question counts as synced.
	meta, err := qsvc.CreateQuestion(ctx, CreateInput{Title: "Managed", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	synced := *meta.LocalPath

	seedPrefix(t, store, "orphan_no_meta", nil)
	seedPrefix(t, store, "orphan_bad_json", "not json {")
	seedPrefix(t, store, "orphan_no_id", types.Descriptor{Title: "No ID"})
	seedPrefix(t, store, "orphan_unknown", types.Descriptor{ID: uuid.NewString(), Title: "Unknown"})
	seedPrefix(t, store, "downloads", nil)

	entries, err := sync.CheckUnsync(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	want := map[string]SyncStatus{
		synced:            StatusSynced,
		"orphan_no_meta":  StatusMissingMetadata,
		"orphan_bad_json": StatusInvalidMetadata,
		"orphan_no_id":    StatusMissingID,
		"orphan_unknown":  StatusNotInDatabase,
	}
	if len(entries) != len(want) {
		t.Fatalf("entries: want=%d got=%d (%+v)", len(want), len(entries), entries)
	}
	for prefix, status := range want {
		got, ok := statusFor(entries, prefix)
		if !ok {
			t.Fatalf("prefix %q missing from report", prefix)
		}
		if got.Status != status {
			t.Fatalf("%s status: want=%q got=%q", prefix, status, got.Status)
		}
	}
	if _, ok := statusFor(entries, "downloads"); ok {
		t.Fatalf("reserved prefix downloads must be skipped")
	}
}

func TestSyncAdoptsOrphanPrefix(t *testing.T) {
	sync, qsvc, store := testSyncService(t)
	ctx := context.Background()

	origID := uuid.NewString()
	seedPrefix(t, store, "legacy_folder", types.Descriptor{
		ID:         origID,
		Title:      "Beam Deflection",
		IsAdaptive: true,
		Topics:     []string{"statics"},
		Languages:  []string{"javascript"},
	})

	report, err := sync.SyncQuestions(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Repaired != 1 || report.Failed != 0 {
		t.Fatalf("report: want repaired=1 failed=0 got %+v", report)
	}
	entry := report.Entries[0]
	if entry.Status != StatusRepaired {
		t.Fatalf("status: want=%q got=%q", StatusRepaired, entry.Status)
	}
	if !strings.HasPrefix(entry.Prefix, "Beam_Deflection_") {
		t.Fatalf("canonical prefix: want Beam_Deflection_* got %q", entry.Prefix)
	}
	if ok, _ := store.PrefixExists(ctx, "legacy_folder"); ok {
		t.Fatalf("old prefix survived adoption")
	}

	// The row keeps the descriptor's id and points at the canonical prefix.
	id := mustUUID(t, origID)
	got, err := qsvc.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("get adopted: %v", err)
	}
	if got.LocalPath == nil || *got.LocalPath != entry.Prefix {
		t.Fatalf("pointer: want=%q got=%v", entry.Prefix, got.LocalPath)
	}
	if !got.IsAdaptive || len(got.Topics) != 1 {
		t.Fatalf("attributes: want adaptive with 1 topic got %+v", got)
	}

	// Descriptor rewritten in place with the same id.
	data, err := store.ReadFile(ctx, entry.Prefix, types.FileMetadata)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var desc types.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if desc.ID != origID {
		t.Fatalf("descriptor id: want=%q got=%q", origID, desc.ID)
	}
}

func TestSyncAssignsIDWhenMissing(t *testing.T) {
	sync, qsvc, store := testSyncService(t)
	ctx := context.Background()

	seedPrefix(t, store, "no_id_folder", types.Descriptor{Title: "Untracked"})

	report, err := sync.SyncQuestions(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("repaired: want=1 got=%d (%+v)", report.Repaired, report)
	}
	entry := report.Entries[0]
	if entry.QuestionID == "" {
		t.Fatalf("adopted entry carries no question id")
	}
	if _, err := qsvc.GetQuestion(ctx, mustUUID(t, entry.QuestionID)); err != nil {
		t.Fatalf("get adopted: %v", err)
	}
	data, err := store.ReadFile(ctx, entry.Prefix, types.FileMetadata)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var desc types.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if desc.ID != entry.QuestionID {
		t.Fatalf("descriptor id: want=%q got=%q", entry.QuestionID, desc.ID)
	}
}

func TestSyncNeverAbortsOnBadPrefix(t *testing.T) {
	sync, _, store := testSyncService(t)
	ctx := context.Background()

	seedPrefix(t, store, "bad", "{{{")
	seedPrefix(t, store, "good", types.Descriptor{ID: uuid.NewString(), Title: "Good"})

	report, err := sync.SyncQuestions(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Checked != 2 || report.Repaired != 1 || report.Failed != 1 {
		t.Fatalf("report: want checked=2 repaired=1 failed=1 got %+v", report)
	}
}

func TestPruneMissingDeletesDanglingRows(t *testing.T) {
	sync, qsvc, store := testSyncService(t)
	ctx := context.Background()

	keep, err := qsvc.CreateQuestion(ctx, CreateInput{Title: "Keep", CreateLabels: true})
	if err != nil {
		t.Fatalf("create keep: %v", err)
	}
	gone, err := qsvc.CreateQuestion(ctx, CreateInput{Title: "Gone", CreateLabels: true})
	if err != nil {
		t.Fatalf("create gone: %v", err)
	}
	if err := store.DeletePrefix(ctx, *gone.LocalPath); err != nil {
		t.Fatalf("drop prefix: %v", err)
	}

	report, err := sync.PruneMissing(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.Checked != 2 || report.DeletedFromDB != 1 || report.StillValid != 1 {
		t.Fatalf("report: want checked=2 deleted=1 valid=1 got %+v", report)
	}
	if _, err := qsvc.GetQuestion(ctx, gone.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("dangling row: want not_found got %v", err)
	}
	if _, err := qsvc.GetQuestion(ctx, keep.ID); err != nil {
		t.Fatalf("valid row pruned: %v", err)
	}
}

func TestConcurrentSweepRefused(t *testing.T) {
	sync, _, _ := testSyncService(t)
	sync.sweep.Lock()
	defer sync.sweep.Unlock()

	if _, err := sync.CheckUnsync(context.Background()); !apierr.Is(err, apierr.KindConflict) {
		t.Fatalf("concurrent sweep: want conflict got %v", err)
	}
	if _, err := sync.PruneMissing(context.Background()); !apierr.Is(err, apierr.KindConflict) {
		t.Fatalf("concurrent prune: want conflict got %v", err)
	}
}
