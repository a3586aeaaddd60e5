package vault

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&vaultRow{}, &legacyRow{}, &migrationMarker{}))
	return db
}

func testMasterKey() []byte {
	return make([]byte, masterKeySize)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := setupTestDB(t)
	s, err := New(context.Background(), db, testMasterKey())
	require.NoError(t, err)
	return s
}

func TestPutAndGetByIDRoundTrip(t *testing.T) {
	s := newTestService(t)

	entry, err := s.Put(context.Background(), StoreInput{
		WorkspaceID: "ws-1",
		Content:     "remember to rotate the deployment keys",
		Tags:        []string{"ops"},
		Source:      "director",
		Sensitivity: types.SensitivityConfidential,
		Metadata:    map[string]string{"priority": "high"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	got, err := s.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "remember to rotate the deployment keys", got.Content)
	require.Equal(t, []string{"ops"}, got.Tags)
	require.Equal(t, "high", got.Metadata["priority"])
	require.Equal(t, types.SensitivityConfidential, got.Sensitivity)
	require.Equal(t, int64(0), got.AccessCount)
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	s := newTestService(t)
	got, err := s.GetByID(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteByIDIsIdempotent(t *testing.T) {
	s := newTestService(t)
	entry, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteByID(context.Background(), entry.ID))
	require.NoError(t, s.DeleteByID(context.Background(), entry.ID))

	got, err := s.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSearchWorkspaceBumpsAccessStats(t *testing.T) {
	s := newTestService(t)
	entry, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "the launch checklist lives in the runbook"})
	require.NoError(t, err)

	results, err := s.SearchWorkspace(context.Background(), "ws-1", "checklist", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].AccessCount)

	got, err := s.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.AccessCount)
}

func TestSearchWorkspaceScopeIsolation(t *testing.T) {
	s := newTestService(t)
	_, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "shared secret alpha"})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), StoreInput{WorkspaceID: "ws-2", Content: "shared secret alpha"})
	require.NoError(t, err)

	results, err := s.SearchWorkspace(context.Background(), "ws-1", "secret", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.WorkspaceID("ws-1"), results[0].WorkspaceID)
}

func TestPutDropsMismatchedEmbeddingDimension(t *testing.T) {
	s := newTestService(t)
	entry, err := s.Put(context.Background(), StoreInput{
		WorkspaceID: "ws-1",
		Content:     "short vector",
		Embedding:   []float32{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)
	require.Empty(t, entry.Embedding)
	require.Zero(t, entry.EmbeddingDim)
}

func TestSearchWorkspaceVectorRanksByDistance(t *testing.T) {
	s := newTestService(t)
	near := make([]float32, embeddingDim)
	far := make([]float32, embeddingDim)
	near[0] = 1.0
	far[0] = 100.0

	_, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "near entry", Embedding: near})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "far entry", Embedding: far})
	require.NoError(t, err)

	query := make([]float32, embeddingDim)
	query[0] = 1.1

	results, err := s.SearchWorkspaceVector(context.Background(), "ws-1", query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "near entry", results[0].Content)
}

func TestStatsCountsWorkspaceAndTotal(t *testing.T) {
	s := newTestService(t)
	_, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "a"})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "b"})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), StoreInput{WorkspaceID: "ws-2", Content: "c"})
	require.NoError(t, err)

	ws1 := types.WorkspaceID("ws-1")
	total, workspace, err := s.Stats(context.Background(), &ws1)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, int64(2), workspace)
}

func TestRecentWorkspaceOrdersNewestFirst(t *testing.T) {
	s := newTestService(t)
	older, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "older", CreatedAt: time.Unix(1000, 0)})
	require.NoError(t, err)
	newer, err := s.Put(context.Background(), StoreInput{WorkspaceID: "ws-1", Content: "newer", CreatedAt: time.Unix(2000, 0)})
	require.NoError(t, err)

	entries, err := s.RecentWorkspace(context.Background(), "ws-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, newer.ID, entries[0].ID)
	require.Equal(t, older.ID, entries[1].ID)
}

func TestPlaintextMigrationImportsLegacyRows(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&legacyRow{
		ID:          "legacy-1",
		WorkspaceID: "ws-1",
		Content:     "an old note",
		CreatedAt:   time.Now().Unix(),
	}).Error)

	s, err := New(context.Background(), db, testMasterKey())
	require.NoError(t, err)

	got, err := s.GetByID(context.Background(), "legacy-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "an old note", got.Content)
	require.Equal(t, []string{"legacy"}, got.Tags)
	require.Equal(t, "legacy", got.Source)

	done, err := s.repo.migrationCompleted(migrationPlaintext)
	require.NoError(t, err)
	require.True(t, done)
}

func TestReembedBackfillSkipsWithoutCredentials(t *testing.T) {
	db := setupTestDB(t)
	masterKey := testMasterKey()

	id := types.MemoryID("pre-existing")
	workspaceID := types.WorkspaceID("ws-1")
	sealedContent, err := sealField(masterKey, workspaceID, id, "content", []byte("needs embedding"))
	require.NoError(t, err)
	sealedTags, err := sealField(masterKey, workspaceID, id, "tags", []byte("[]"))
	require.NoError(t, err)
	require.NoError(t, db.Create(&vaultRow{
		ID:                string(id),
		WorkspaceID:       string(workspaceID),
		Sensitivity:       string(types.SensitivityInternal),
		CreatedAt:         time.Now().Unix(),
		LastAccessed:      time.Now().Unix(),
		ContentCiphertext: sealedContent.Ciphertext,
		ContentNonce:      sealedContent.Nonce,
		TagsCiphertext:    sealedTags.Ciphertext,
		TagsNonce:         sealedTags.Nonce,
		SchemaVersion:     1,
	}).Error)

	// No WithEmbedder/WithSecretProvider: the backfill has a row needing
	// reembed but no way to compute one.
	s, err := New(context.Background(), db, masterKey)
	require.NoError(t, err)

	done, err := s.repo.migrationCompleted(migrationReembed)
	require.NoError(t, err)
	require.False(t, done, "backfill must retry on next boot when no api key is available")
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, embeddingDim)
	out[0] = float32(len(text))
	return out, nil
}

type stubSecrets struct{ key string }

func (s stubSecrets) Get(ctx context.Context, key string) (string, bool, error) {
	if s.key == "" {
		return "", false, nil
	}
	return s.key, true, nil
}

func TestReembedBackfillFillsMissingVectors(t *testing.T) {
	db := setupTestDB(t)
	masterKey := testMasterKey()

	// Seed a row with no embedding directly, as if it had been written by a
	// prior boot before a Service (and its startup migrations) existed.
	id := types.MemoryID("pre-existing")
	workspaceID := types.WorkspaceID("ws-1")
	sealedContent, err := sealField(masterKey, workspaceID, id, "content", []byte("needs embedding"))
	require.NoError(t, err)
	sealedTags, err := sealField(masterKey, workspaceID, id, "tags", []byte("[]"))
	require.NoError(t, err)
	require.NoError(t, db.Create(&vaultRow{
		ID:                string(id),
		WorkspaceID:       string(workspaceID),
		Sensitivity:       string(types.SensitivityInternal),
		CreatedAt:         time.Now().Unix(),
		LastAccessed:      time.Now().Unix(),
		ContentCiphertext: sealedContent.Ciphertext,
		ContentNonce:      sealedContent.Nonce,
		TagsCiphertext:    sealedTags.Ciphertext,
		TagsNonce:         sealedTags.Nonce,
		SchemaVersion:     1,
	}).Error)

	s, err := New(context.Background(), db, masterKey,
		WithEmbedder(stubEmbedder{}), WithSecretProvider(stubSecrets{key: "test-key"}))
	require.NoError(t, err)

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got.Embedding, embeddingDim)

	done, err := s.repo.migrationCompleted(migrationReembed)
	require.NoError(t, err)
	require.True(t, done)
}
