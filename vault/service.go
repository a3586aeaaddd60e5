package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	embeddingDim       = 3072
	embeddingProvider  = "gemini"
	embeddingModel     = "gemini-embedding-001"
	migrationPlaintext = "migrate_plaintext_memory_entries_v1"
	migrationReembed   = "migrate_memory_reembed_3072_v1"
)

// tracer instruments every Memory Vault operation per SPEC_FULL.md's
// domain-stack tracing requirement. Using the global OTel tracer provider
// (the teacher's cmd/agentflow/middleware.go OTelTracing does the same)
// means this package never depends on internal/telemetry directly: spans are
// real when telemetry.Init has installed an SDK provider, and no-ops
// otherwise.
var tracer = otel.Tracer("agentflow/vault")

// endSpan records *err on span, if set, and closes it. Deferred by every
// vault operation below instead of repeating the same lines each time.
func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// Embedder turns text into a vector the vault can index and search against.
// Concrete implementations live outside this package (see the collab
// package's adapters); the vault only ever depends on this narrow contract.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// SecretProvider resolves the credential the re-embed backfill needs to call
// an Embedder. A not-found key is success with an empty result, not an error.
type SecretProvider interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// KeyProvider supplies the vault's AES-256 master key, generating and
// persisting one on first use if the provider backs it with storage.
type KeyProvider interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StoreInput is the caller-supplied form of a memory entry; CreatedAt,
// LastAccessed and AccessCount are assigned by Put.
type StoreInput struct {
	ID          types.MemoryID
	WorkspaceID types.WorkspaceID
	Content     string
	Tags        []string
	Source      string
	Sensitivity types.MemorySensitivity
	Metadata    map[string]string
	CreatedAt   time.Time
	Embedding   []float32
}

// Service is the Memory Vault: an encrypted, embedding-indexed, per-workspace
// key-value store. It owns the repository and master key; callers never see
// ciphertext.
type Service struct {
	repo      *repository
	masterKey []byte
	embedder  Embedder
	secrets   SecretProvider
	logger    *zap.Logger
	throttle  *rate.Limiter
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithEmbedder attaches the Embedder the re-embed backfill calls.
func WithEmbedder(e Embedder) Option { return func(s *Service) { s.embedder = e } }

// WithSecretProvider attaches the credential source the re-embed backfill
// resolves an API key from.
func WithSecretProvider(sp SecretProvider) Option { return func(s *Service) { s.secrets = sp } }

// WithLogger overrides the zap.Logger used for this service's diagnostics.
func WithLogger(logger *zap.Logger) Option { return func(s *Service) { s.logger = logger } }

// New builds a Service against db (already migrated to carry vault_rows,
// vault_legacy_rows and vault_migrations_applied) and masterKey, then runs
// the startup migrations in order: plaintext import first, re-embed backfill
// second. Both are idempotent and safe to run on every boot.
func New(ctx context.Context, db *gorm.DB, masterKey []byte, opts ...Option) (*Service, error) {
	if len(masterKey) != masterKeySize {
		return nil, types.NewInvalidConfig(fmt.Sprintf("master key must be %d bytes", masterKeySize))
	}

	s := &Service{
		repo:      newRepository(db),
		masterKey: masterKey,
		logger:    zap.NewNop(),
		throttle:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "vault"))

	if err := s.runPlaintextMigration(ctx); err != nil {
		return nil, err
	}
	if err := s.runReembedBackfill(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Put encrypts and stores input, assigning an id via uuid.NewString when the
// caller leaves one unset. An embedding whose length does not match
// embeddingDim is logged and dropped rather than rejected — storing the entry
// without its vector is preferable to losing the entry outright.
func (s *Service) Put(ctx context.Context, input StoreInput) (entry *types.MemoryEntry, err error) {
	_, span := tracer.Start(ctx, "vault.put", trace.WithAttributes(
		attribute.String("workspace_id", string(input.WorkspaceID)),
	))
	defer endSpan(span, &err)

	id := input.ID
	if id == "" {
		id = types.MemoryID(uuid.NewString())
	}

	tagsJSON, err := json.Marshal(input.Tags)
	if err != nil {
		return nil, types.NewSerializationError(err)
	}
	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, types.NewSerializationError(err)
	}

	embedding := input.Embedding
	dim := 0
	if len(embedding) > 0 {
		if len(embedding) != embeddingDim {
			s.logger.Warn("embedding dimension mismatch, storing entry without vector",
				zap.String("id", string(id)), zap.Int("got", len(embedding)), zap.Int("want", embeddingDim))
			embedding = nil
		} else {
			dim = embeddingDim
		}
	}

	sealedContent, err := sealField(s.masterKey, input.WorkspaceID, id, "content", []byte(input.Content))
	if err != nil {
		return nil, types.NewMemoryError("seal content", err, false)
	}
	sealedTags, err := sealField(s.masterKey, input.WorkspaceID, id, "tags", tagsJSON)
	if err != nil {
		return nil, types.NewMemoryError("seal tags", err, false)
	}
	sealedMetadata, err := sealField(s.masterKey, input.WorkspaceID, id, "metadata", metadataJSON)
	if err != nil {
		return nil, types.NewMemoryError("seal metadata", err, false)
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	sensitivity := input.Sensitivity
	if sensitivity == "" {
		sensitivity = types.SensitivityInternal
	}

	row := &vaultRow{
		ID:                 string(id),
		WorkspaceID:        string(input.WorkspaceID),
		Source:             input.Source,
		Sensitivity:        string(sensitivity),
		CreatedAt:          createdAt.Unix(),
		LastAccessed:       createdAt.Unix(),
		AccessCount:        0,
		ContentCiphertext:  sealedContent.Ciphertext,
		ContentNonce:       sealedContent.Nonce,
		TagsCiphertext:     sealedTags.Ciphertext,
		TagsNonce:          sealedTags.Nonce,
		MetadataCiphertext: sealedMetadata.Ciphertext,
		MetadataNonce:      sealedMetadata.Nonce,
		Embedding:          embeddingToBytes(embedding),
		EmbeddingModel:     embeddingModelOrEmpty(dim),
		EmbeddingProvider:  embeddingProviderOrEmpty(dim),
		EmbeddingDim:       dim,
		SchemaVersion:      1,
	}

	if err := s.repo.upsert(row); err != nil {
		return nil, types.NewMemoryError("store entry", err, true)
	}

	return s.decryptRow(row)
}

func embeddingModelOrEmpty(dim int) string {
	if dim == 0 {
		return ""
	}
	return embeddingModel
}

func embeddingProviderOrEmpty(dim int) string {
	if dim == 0 {
		return ""
	}
	return embeddingProvider
}

// GetByID returns the decrypted entry for id, or nil if absent. It does not
// update access statistics.
func (s *Service) GetByID(ctx context.Context, id types.MemoryID) (entry *types.MemoryEntry, err error) {
	_, span := tracer.Start(ctx, "vault.get_by_id", trace.WithAttributes(attribute.String("entry_id", string(id))))
	defer endSpan(span, &err)

	row, err := s.repo.getByID(id)
	if err != nil {
		return nil, types.NewMemoryError("get entry", err, true)
	}
	if row == nil {
		return nil, nil
	}
	return s.decryptRow(row)
}

// DeleteByID removes an entry. Deleting an absent id is not an error.
func (s *Service) DeleteByID(ctx context.Context, id types.MemoryID) (err error) {
	_, span := tracer.Start(ctx, "vault.delete_by_id", trace.WithAttributes(attribute.String("entry_id", string(id))))
	defer endSpan(span, &err)

	if err := s.repo.deleteByID(id); err != nil {
		return types.NewMemoryError("delete entry", err, true)
	}
	return nil
}

// RecentWorkspace returns a workspace's most recently created entries, newest
// first, without touching access statistics.
func (s *Service) RecentWorkspace(ctx context.Context, workspaceID types.WorkspaceID, limit int) (entries []types.MemoryEntry, err error) {
	_, span := tracer.Start(ctx, "vault.recent_workspace", trace.WithAttributes(
		attribute.String("workspace_id", string(workspaceID)), attribute.Int("limit", limit),
	))
	defer endSpan(span, &err)

	rows, err := s.repo.listWorkspaceRows(workspaceID, limit)
	if err != nil {
		return nil, types.NewMemoryError("list workspace entries", err, true)
	}
	return s.decryptRows(rows)
}

// SearchWorkspace performs a case-insensitive substring search over a
// workspace's decrypted content, bumping access statistics on every match.
// It scans up to 10x limit (at least 50) candidate rows before stopping.
func (s *Service) SearchWorkspace(ctx context.Context, workspaceID types.WorkspaceID, query string, limit int) (out []types.MemoryEntry, err error) {
	_, span := tracer.Start(ctx, "vault.search_workspace", trace.WithAttributes(
		attribute.String("workspace_id", string(workspaceID)), attribute.Int("limit", limit),
	))
	defer endSpan(span, &err)

	scanLimit := limit * 10
	if scanLimit < 50 {
		scanLimit = 50
	}

	rows, err := s.repo.listWorkspaceRows(workspaceID, scanLimit)
	if err != nil {
		return nil, types.NewMemoryError("search workspace", err, true)
	}

	needle := strings.ToLower(query)
	for _, row := range rows {
		if len(out) >= limit {
			break
		}
		entry, err := s.decryptRow(&row)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(entry.Content), needle) {
			continue
		}

		entry.AccessCount++
		entry.LastAccessed = time.Now()
		if err := s.repo.touchAccess(entry.ID, entry.LastAccessed, entry.AccessCount); err != nil {
			s.logger.Warn("access stat update failed", zap.String("id", string(entry.ID)), zap.Error(err))
		}
		out = append(out, *entry)
	}
	return out, nil
}

// SearchWorkspaceVector ranks a workspace's entries by embedding distance to
// query, bumping access statistics on every returned entry.
func (s *Service) SearchWorkspaceVector(ctx context.Context, workspaceID types.WorkspaceID, query []float32, limit int) (out []types.MemoryEntry, err error) {
	_, span := tracer.Start(ctx, "vault.search_workspace_vector", trace.WithAttributes(
		attribute.String("workspace_id", string(workspaceID)), attribute.Int("limit", limit),
	))
	defer endSpan(span, &err)

	scored, err := s.repo.searchWorkspaceVector(workspaceID, query, limit)
	if err != nil {
		return nil, types.NewMemoryError("vector search workspace", err, true)
	}

	for _, sr := range scored {
		row := sr.row
		entry, err := s.decryptRow(&row)
		if err != nil {
			continue
		}
		entry.AccessCount++
		entry.LastAccessed = time.Now()
		if err := s.repo.touchAccess(entry.ID, entry.LastAccessed, entry.AccessCount); err != nil {
			s.logger.Warn("access stat update failed", zap.String("id", string(entry.ID)), zap.Error(err))
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Stats reports total vault size and, when workspaceID is non-nil, that
// workspace's entry count.
func (s *Service) Stats(ctx context.Context, workspaceID *types.WorkspaceID) (total, workspace int64, err error) {
	_, span := tracer.Start(ctx, "vault.stats")
	defer endSpan(span, &err)

	total, workspace, err = s.repo.counts(workspaceID)
	if err != nil {
		return 0, 0, types.NewMemoryError("vault stats", err, true)
	}
	return total, workspace, nil
}

func (s *Service) decryptRows(rows []vaultRow) ([]types.MemoryEntry, error) {
	out := make([]types.MemoryEntry, 0, len(rows))
	for i := range rows {
		entry, err := s.decryptRow(&rows[i])
		if err != nil {
			s.logger.Warn("dropping undecryptable row", zap.String("id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (s *Service) decryptRow(row *vaultRow) (*types.MemoryEntry, error) {
	id := types.MemoryID(row.ID)
	workspaceID := types.WorkspaceID(row.WorkspaceID)

	content, err := openField(s.masterKey, workspaceID, id, "content", sealedField{row.ContentCiphertext, row.ContentNonce})
	if err != nil {
		return nil, types.NewMemoryError("decrypt content", err, false)
	}
	tagsBytes, err := openField(s.masterKey, workspaceID, id, "tags", sealedField{row.TagsCiphertext, row.TagsNonce})
	if err != nil {
		return nil, types.NewMemoryError("decrypt tags", err, false)
	}
	var tags []string
	if len(tagsBytes) > 0 {
		if err := json.Unmarshal(tagsBytes, &tags); err != nil {
			return nil, types.NewSerializationError(err)
		}
	}

	metadata := map[string]string{}
	if len(row.MetadataCiphertext) > 0 || len(row.MetadataNonce) > 0 {
		metaBytes, err := openField(s.masterKey, workspaceID, id, "metadata", sealedField{row.MetadataCiphertext, row.MetadataNonce})
		if err != nil {
			return nil, types.NewMemoryError("decrypt metadata", err, false)
		}
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &metadata); err != nil {
				return nil, types.NewSerializationError(err)
			}
		}
	}

	return &types.MemoryEntry{
		ID:                id,
		WorkspaceID:       workspaceID,
		Content:           string(content),
		Tags:              tags,
		Source:            row.Source,
		Sensitivity:       types.SensitivityFromDB(row.Sensitivity),
		CreatedAt:         time.Unix(row.CreatedAt, 0),
		LastAccessed:      time.Unix(row.LastAccessed, 0),
		AccessCount:       row.AccessCount,
		Metadata:          metadata,
		Embedding:         bytesToEmbedding(row.Embedding),
		EmbeddingModel:    row.EmbeddingModel,
		EmbeddingProvider: row.EmbeddingProvider,
		EmbeddingDim:      row.EmbeddingDim,
	}, nil
}

// runPlaintextMigration imports rows left over in vault_legacy_rows (a table
// predating per-field encryption) into vault_rows, skipping any id already
// present, then drops the legacy table. Gated by migrationPlaintext so it
// only runs once across the table's lifetime.
func (s *Service) runPlaintextMigration(ctx context.Context) error {
	done, err := s.repo.migrationCompleted(migrationPlaintext)
	if err != nil {
		return types.NewMemoryError("check plaintext migration state", err, true)
	}
	if done {
		return nil
	}

	legacyRows, err := s.repo.legacyPlaintextEntries()
	if err != nil {
		return types.NewMemoryError("read legacy rows", err, true)
	}

	for _, legacy := range legacyRows {
		existing, err := s.repo.getByID(types.MemoryID(legacy.ID))
		if err != nil {
			return types.NewMemoryError("probe existing entry", err, true)
		}
		if existing != nil {
			continue
		}

		source := legacy.Source
		if source == "" {
			source = "legacy"
		}

		if _, err := s.Put(ctx, StoreInput{
			ID:          types.MemoryID(legacy.ID),
			WorkspaceID: types.WorkspaceID(legacy.WorkspaceID),
			Content:     legacy.Content,
			Tags:        []string{"legacy"},
			Source:      source,
			Sensitivity: types.SensitivityInternal,
			CreatedAt:   time.Unix(legacy.CreatedAt, 0),
		}); err != nil {
			return fmt.Errorf("import legacy entry %s: %w", legacy.ID, err)
		}
	}

	if err := s.repo.dropLegacyTable(); err != nil {
		s.logger.Warn("drop legacy table failed, leaving it in place", zap.Error(err))
	}

	if err := s.repo.markMigrationCompleted(migrationPlaintext); err != nil {
		return types.NewMemoryError("mark plaintext migration complete", err, true)
	}
	return nil
}

// runReembedBackfill re-computes the embedding for any row whose dimension
// does not match embeddingDim. It requires both an Embedder and a
// SecretProvider holding a usable key; lacking either, it returns without
// marking the migration complete so the backfill retries on the next boot
// instead of silently leaving rows unembedded forever.
func (s *Service) runReembedBackfill(ctx context.Context) error {
	done, err := s.repo.migrationCompleted(migrationReembed)
	if err != nil {
		return types.NewMemoryError("check reembed migration state", err, true)
	}
	if done {
		return nil
	}

	ids, err := s.repo.idsNeedingReembed(embeddingDim)
	if err != nil {
		return types.NewMemoryError("list rows needing reembed", err, true)
	}
	if len(ids) == 0 {
		return s.repo.markMigrationCompleted(migrationReembed)
	}

	if s.embedder == nil || s.secrets == nil {
		s.logger.Info("skipping reembed backfill: no embedder or secret provider configured")
		return nil
	}

	key, found, err := s.secrets.Get(ctx, embeddingProvider+"_api_key")
	if err != nil {
		return types.NewMemoryError("resolve embedder api key", err, true)
	}
	if !found || key == "" {
		s.logger.Info("skipping reembed backfill: no api key available, will retry next boot")
		return nil
	}

	for _, id := range ids {
		if err := s.throttle.Wait(ctx); err != nil {
			return err
		}

		row, err := s.repo.getByID(types.MemoryID(id))
		if err != nil || row == nil {
			continue
		}
		if row.EmbeddingDim == embeddingDim {
			continue
		}

		entry, err := s.decryptRow(row)
		if err != nil {
			s.logger.Warn("reembed: skipping undecryptable row", zap.String("id", id), zap.Error(err))
			continue
		}

		embedding, err := s.embedder.EmbedText(ctx, entry.Content)
		if err != nil {
			s.logger.Warn("reembed: embed_text failed", zap.String("id", id), zap.Error(err))
			continue
		}

		if _, err := s.Put(ctx, StoreInput{
			ID:          entry.ID,
			WorkspaceID: entry.WorkspaceID,
			Content:     entry.Content,
			Tags:        entry.Tags,
			Source:      entry.Source,
			Sensitivity: entry.Sensitivity,
			Metadata:    entry.Metadata,
			CreatedAt:   entry.CreatedAt,
			Embedding:   embedding,
		}); err != nil {
			s.logger.Warn("reembed: store failed", zap.String("id", id), zap.Error(err))
		}
	}

	return s.repo.markMigrationCompleted(migrationReembed)
}
