package vault

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/BaSui01/agentflow/types"
	"gorm.io/gorm"
)

// vaultRow is the GORM model backing the vault_rows table. Content, tags and
// metadata are stored as independently-sealed ciphertext/nonce pairs; the
// embedding is stored as a raw little-endian float32 blob (see crypto.go).
type vaultRow struct {
	ID            string `gorm:"column:id;primaryKey"`
	WorkspaceID   string `gorm:"column:workspace_id;index:idx_vault_rows_workspace_created"`
	Source        string `gorm:"column:source"`
	Sensitivity   string `gorm:"column:sensitivity"`
	CreatedAt     int64  `gorm:"column:created_at;index:idx_vault_rows_workspace_created"`
	LastAccessed  int64  `gorm:"column:last_accessed"`
	AccessCount   int64  `gorm:"column:access_count"`

	ContentCiphertext []byte `gorm:"column:content_ciphertext"`
	ContentNonce      []byte `gorm:"column:content_nonce"`
	TagsCiphertext    []byte `gorm:"column:tags_ciphertext"`
	TagsNonce         []byte `gorm:"column:tags_nonce"`
	MetadataCiphertext []byte `gorm:"column:metadata_ciphertext"`
	MetadataNonce      []byte `gorm:"column:metadata_nonce"`

	Embedding         []byte `gorm:"column:embedding"`
	EmbeddingModel    string `gorm:"column:embedding_model"`
	EmbeddingProvider string `gorm:"column:embedding_provider"`
	EmbeddingDim      int    `gorm:"column:embedding_dim"`

	SchemaVersion int `gorm:"column:schema_version"`
}

func (vaultRow) TableName() string { return "vault_rows" }

// legacyRow mirrors the pre-encryption plaintext table the startup migration
// imports from, if present.
type legacyRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	WorkspaceID string `gorm:"column:workspace_id"`
	Content     string `gorm:"column:content"`
	Source      string `gorm:"column:source"`
	CreatedAt   int64  `gorm:"column:created_at"`
}

func (legacyRow) TableName() string { return "vault_legacy_rows" }

// migrationMarker records one-time data migrations applied against the vault
// tables, distinct from the schema-DDL migrations golang-migrate tracks.
type migrationMarker struct {
	MigrationKey string `gorm:"column:migration_key;primaryKey"`
	AppliedAt    int64  `gorm:"column:applied_at"`
}

func (migrationMarker) TableName() string { return "vault_migrations_applied" }

// AutoMigrate creates or updates the vault's backing tables. Callers run this
// once against db before passing it to New.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&vaultRow{}, &legacyRow{}, &migrationMarker{})
}

// repository is the GORM-backed persistence layer the service composes with
// the crypto helpers in crypto.go. It knows nothing about encryption context;
// all ciphertext/nonce pairs arrive and leave opaque.
type repository struct {
	db *gorm.DB
}

func newRepository(db *gorm.DB) *repository {
	return &repository{db: db}
}

func (r *repository) upsert(row *vaultRow) error {
	return r.db.Save(row).Error
}

func (r *repository) getByID(id types.MemoryID) (*vaultRow, error) {
	var row vaultRow
	err := r.db.First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) deleteByID(id types.MemoryID) error {
	return r.db.Delete(&vaultRow{}, "id = ?", string(id)).Error
}

func (r *repository) listWorkspaceRows(workspaceID types.WorkspaceID, limit int) ([]vaultRow, error) {
	var rows []vaultRow
	err := r.db.
		Where("workspace_id = ?", string(workspaceID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// touchAccess bumps access_count and last_accessed for id. Failures are
// tolerated by callers: a missed access-stat update never invalidates a read.
func (r *repository) touchAccess(id types.MemoryID, accessedAt time.Time, accessCount int64) error {
	return r.db.Model(&vaultRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"last_accessed": accessedAt.Unix(),
			"access_count":  accessCount,
		}).Error
}

func (r *repository) counts(workspaceID *types.WorkspaceID) (total, workspace int64, err error) {
	if err = r.db.Model(&vaultRow{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if workspaceID == nil {
		return total, 0, nil
	}
	if err = r.db.Model(&vaultRow{}).Where("workspace_id = ?", string(*workspaceID)).Count(&workspace).Error; err != nil {
		return 0, 0, err
	}
	return total, workspace, nil
}

// scoredRow pairs a row with its distance from a query embedding.
type scoredRow struct {
	row      vaultRow
	distance float64
}

// searchWorkspaceVector ranks workspace rows with a non-empty embedding of
// the query's dimensionality by ascending euclidean distance. This scans the
// workspace's rows in Go rather than in SQL: none of the supported database
// drivers (sqlite/postgres/mysql) are assumed to carry a vector extension, so
// a portable brute-force pass is the only search strategy that works
// identically across all three.
func (r *repository) searchWorkspaceVector(workspaceID types.WorkspaceID, query []float32, limit int) ([]scoredRow, error) {
	rows, err := r.listWorkspaceRows(workspaceID, 0)
	if err != nil {
		return nil, err
	}

	var scored []scoredRow
	for _, row := range rows {
		emb := bytesToEmbedding(row.Embedding)
		if len(emb) == 0 || len(emb) != len(query) {
			continue
		}
		scored = append(scored, scoredRow{row: row, distance: euclideanDistance(emb, query)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].distance < scored[j].distance })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// legacyPlaintextEntries returns every row of the pre-encryption table, used
// only by the one-time import migration.
func (r *repository) legacyPlaintextEntries() ([]legacyRow, error) {
	var rows []legacyRow
	err := r.db.Find(&rows).Error
	return rows, err
}

// dropLegacyTable removes the plaintext table once its rows have been
// imported. Best-effort: the caller ignores failures, since leaving an empty
// legacy table behind is harmless.
func (r *repository) dropLegacyTable() error {
	if !r.db.Migrator().HasTable(&legacyRow{}) {
		return nil
	}
	return r.db.Migrator().DropTable(&legacyRow{})
}

// idsNeedingReembed returns ids of rows whose embedding_dim does not match
// wantDim (including rows with no embedding at all).
func (r *repository) idsNeedingReembed(wantDim int) ([]string, error) {
	var ids []string
	err := r.db.Model(&vaultRow{}).
		Where("embedding_dim != ? OR embedding IS NULL", wantDim).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) migrationCompleted(key string) (bool, error) {
	var marker migrationMarker
	err := r.db.First(&marker, "migration_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) markMigrationCompleted(key string) error {
	return r.db.Save(&migrationMarker{MigrationKey: key, AppliedAt: time.Now().Unix()}).Error
}
