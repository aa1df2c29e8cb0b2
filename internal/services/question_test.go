package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/platform/apierr"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/repos"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Question{}, &types.Topic{}, &types.Language{}, &types.QType{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

func testService(t *testing.T) (*QuestionService, *storage.LocalStore) {
	t.Helper()
	log := logger.Nop()
	store, err := storage.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return NewQuestionService(log, testDB(t), store, ""), store
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func TestCreateQuestionBindsPrefix(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{
		Title:        "Projectile Motion: Part 1?",
		IsAdaptive:   true,
		CreatedBy:    "alice",
		Topics:       []string{"Kinematics", "kinematics", "Physics"},
		Languages:    []string{"javascript"},
		QTypes:       []string{"calculation"},
		CreateLabels: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if meta.LocalPath == nil || *meta.LocalPath == "" {
		t.Fatalf("local_path: want bound prefix, got nil")
	}
	prefix := *meta.LocalPath
	if strings.ContainsAny(prefix, `<>:"/\|?* `) {
		t.Fatalf("prefix %q contains unsafe characters", prefix)
	}
	if !strings.HasPrefix(prefix, "Projectile_Motion_Part_1_") {
		t.Fatalf("prefix: want sanitized title prefix, got %q", prefix)
	}
	ok, err := store.PrefixExists(ctx, prefix)
	if err != nil || !ok {
		t.Fatalf("prefix exists: want=true got=%v err=%v", ok, err)
	}
	if got, want := len(meta.Topics), 2; got != want {
		t.Fatalf("topics deduped: want=%d got=%d (%v)", want, got, meta.Topics)
	}

	// Descriptor written alongside the row, carrying the assigned id.
	data, err := store.ReadFile(ctx, prefix, types.FileMetadata)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var desc types.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if desc.ID != meta.ID.String() {
		t.Fatalf("descriptor id: want=%q got=%q", meta.ID.String(), desc.ID)
	}
	if !desc.IsAdaptive {
		t.Fatalf("descriptor is_adaptive: want=true got=false")
	}
}

func TestCreateQuestionRequiresTitle(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.CreateQuestion(context.Background(), CreateInput{Title: "   "})
	if !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("kind: want=%q got=%v", apierr.KindValidation, err)
	}
}

func TestUnknownLabelWithoutCreateFails(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.CreateQuestion(context.Background(), CreateInput{
		Title:  "Thermo",
		Topics: []string{"nonexistent"},
	})
	if !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("kind: want=%q got=%v", apierr.KindValidation, err)
	}
}

func TestGetAndListQuestions(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	a, err := svc.CreateQuestion(ctx, CreateInput{Title: "Alpha", Topics: []string{"statics"}, CreateLabels: true})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	adaptive := true
	if _, err := svc.CreateQuestion(ctx, CreateInput{Title: "Beta", IsAdaptive: adaptive, CreateLabels: true}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	got, err := svc.GetQuestion(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Alpha" {
		t.Fatalf("title: want=%q got=%q", "Alpha", got.Title)
	}

	all, err := svc.ListQuestions(ctx, repos.Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list all: want=2 got=%d", len(all))
	}

	filtered, err := svc.ListQuestions(ctx, repos.Filter{IsAdaptive: &adaptive}, 0, 0)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Title != "Beta" {
		t.Fatalf("filtered: want [Beta] got %+v", filtered)
	}

	paged, err := svc.ListQuestions(ctx, repos.Filter{}, 1, 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("page size: want=1 got=%d", len(paged))
	}
}

func TestGetQuestionNotFound(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.GetQuestion(context.Background(), mustUUID(t, "2f9bdf7e-0000-4000-8000-000000000000"))
	if !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("kind: want=%q got=%v", apierr.KindNotFound, err)
	}
}

func TestUpdateTitleRenamesPrefix(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{Title: "Old Name", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	oldPrefix := *meta.LocalPath
	if err := svc.SaveFile(ctx, meta.ID, "question.html", "<p>hi</p>", true); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	newTitle := "New Name"
	updated, err := svc.UpdateQuestion(ctx, meta.ID, UpdateInput{Title: &newTitle, RenamePrefix: true, CreateLabels: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != newTitle {
		t.Fatalf("title: want=%q got=%q", newTitle, updated.Title)
	}
	newPrefix := *updated.LocalPath
	if !strings.HasPrefix(newPrefix, "New_Name_") {
		t.Fatalf("prefix: want New_Name_* got %q", newPrefix)
	}
	if ok, _ := store.PrefixExists(ctx, oldPrefix); ok {
		t.Fatalf("old prefix %q still exists after rename", oldPrefix)
	}
	// Files moved with the prefix.
	data, err := store.ReadFile(ctx, newPrefix, "question.html")
	if err != nil || string(data) != "<p>hi</p>" {
		t.Fatalf("file after rename: got=%q err=%v", data, err)
	}
}

func TestDeleteQuestionRemovesRowAndPrefix(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{Title: "Doomed", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	prefix := *meta.LocalPath

	if err := svc.DeleteQuestion(ctx, meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetQuestion(ctx, meta.ID); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("row after delete: want not_found got %v", err)
	}
	if ok, _ := store.PrefixExists(ctx, prefix); ok {
		t.Fatalf("prefix %q survived delete", prefix)
	}

	// Deleting a question whose prefix is already gone still succeeds.
	meta2, err := svc.CreateQuestion(ctx, CreateInput{Title: "Half Gone", CreateLabels: true})
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if err := store.DeletePrefix(ctx, *meta2.LocalPath); err != nil {
		t.Fatalf("drop prefix: %v", err)
	}
	if err := svc.DeleteQuestion(ctx, meta2.ID); err != nil {
		t.Fatalf("delete with missing prefix: %v", err)
	}
}

func TestFileOps(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{Title: "Files", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := meta.ID

	if err := svc.SaveFile(ctx, id, "server.js", "module.exports = {};", true); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Structured content is serialized with two-space indent.
	if err := svc.SaveFile(ctx, id, "qrender.json", map[string]any{"title": "Files"}, true); err != nil {
		t.Fatalf("save structured: %v", err)
	}
	data, err := svc.ReadFile(ctx, id, "qrender.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "{\n  \"title\": \"Files\"\n}"; string(data) != want {
		t.Fatalf("structured content: want=%q got=%q", want, data)
	}

	if err := svc.SaveFile(ctx, id, "empty.txt", "", true); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("empty content: want validation got %v", err)
	}
	if err := svc.SaveFile(ctx, id, "../escape.txt", "x", true); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("path escape: want validation got %v", err)
	}
	if err := svc.SaveFile(ctx, id, "server.js", "other", false); !apierr.Is(err, apierr.KindConflict) {
		t.Fatalf("no-overwrite: want conflict got %v", err)
	}

	names, err := svc.ListFiles(ctx, id)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["server.js"] || !found["qrender.json"] || !found[types.FileMetadata] {
		t.Fatalf("list files: missing expected names in %v", names)
	}

	if err := svc.DeleteFile(ctx, id, "server.js"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := svc.ReadFile(ctx, id, "server.js"); !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("read deleted: want not_found got %v", err)
	}
	// Idempotent delete.
	if err := svc.DeleteFile(ctx, id, "server.js"); err != nil {
		t.Fatalf("delete absent file: %v", err)
	}
}

func TestGetQuestionFull(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{Title: "Full", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.SaveFile(ctx, meta.ID, "question.html", "<p>q</p>", true); err != nil {
		t.Fatalf("save: %v", err)
	}

	full, err := svc.GetQuestionFull(ctx, meta.ID)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	if full.Meta.ID != meta.ID {
		t.Fatalf("meta id: want=%s got=%s", meta.ID, full.Meta.ID)
	}
	if full.Files["question.html"] != "<p>q</p>" {
		t.Fatalf("files: want question.html content, got %v", full.Files)
	}
}

func TestConcurrentSaveFileSerialized(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	meta, err := svc.CreateQuestion(ctx, CreateInput{Title: "Racy", CreateLabels: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			content := strings.Repeat("x", n+1)
			errs <- svc.SaveFile(ctx, meta.ID, "question.html", content, true)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save: %v", err)
		}
	}

	// The surviving content is exactly one writer's payload, never a blend.
	data, err := svc.ReadFile(ctx, meta.ID, "question.html")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := len(data); n < 1 || n > writers || strings.Trim(string(data), "x") != "" {
		t.Fatalf("content after concurrent writes: got %q", data)
	}
}

func TestSafeTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Projectile Motion", "Projectile_Motion"},
		{`a<>:"/\|?*b`, "a_b"},
		{"  spaced   out  ", "spaced_out"},
		{"", "question"},
		{"___", "question"},
	}
	for _, c := range cases {
		if got := safeTitle(c.in); got != c.want {
			t.Fatalf("safeTitle(%q): want=%q got=%q", c.in, c.want, got)
		}
	}
	long := strings.Repeat("x", 200)
	if got := safeTitle(long); len(got) != maxPrefixLen {
		t.Fatalf("safeTitle length: want=%d got=%d", maxPrefixLen, len(got))
	}
}
