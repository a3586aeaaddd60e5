// Package vault implements the encrypted, embedding-indexed memory store each
// workspace's agents read and write through.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math"

	"github.com/BaSui01/agentflow/types"
	"golang.org/x/crypto/hkdf"
)

// masterKeySize is the AES-256 key size in bytes.
const masterKeySize = 32

// sealedField is a ciphertext/nonce pair as stored in a vault row.
type sealedField struct {
	Ciphertext []byte
	Nonce      []byte
}

// deriveFieldKey derives a per-field subkey from the vault's master key, bound
// to the workspace id, entry id and field name. Binding the derivation to
// {workspace_id, entry_id} means a ciphertext copied into another row, or
// another workspace's table, fails to decrypt even if the master key leaks
// alongside it.
func deriveFieldKey(masterKey []byte, workspaceID types.WorkspaceID, entryID types.MemoryID, field string) ([]byte, error) {
	salt := sha256.Sum256([]byte(string(workspaceID) + "|" + string(entryID)))
	reader := hkdf.New(sha256.New, masterKey, salt[:], []byte(field))
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	return key, nil
}

// sealField encrypts plaintext under the per-field subkey derived for
// (workspaceID, entryID, field).
func sealField(masterKey []byte, workspaceID types.WorkspaceID, entryID types.MemoryID, field string, plaintext []byte) (sealedField, error) {
	key, err := deriveFieldKey(masterKey, workspaceID, entryID, field)
	if err != nil {
		return sealedField{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return sealedField{}, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealedField{}, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return sealedField{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return sealedField{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// openField decrypts a sealed field under the same derivation context used to
// seal it.
func openField(masterKey []byte, workspaceID types.WorkspaceID, entryID types.MemoryID, field string, sealed sealedField) ([]byte, error) {
	if len(sealed.Ciphertext) == 0 && len(sealed.Nonce) == 0 {
		return nil, nil
	}

	key, err := deriveFieldKey(masterKey, workspaceID, entryID, field)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", field, err)
	}
	return plaintext, nil
}

// embeddingToBytes serializes a float32 embedding as little-endian bytes, the
// on-disk form used by vault_rows.embedding. Embeddings are stored unencrypted:
// they carry far less context than the surrounding content and encrypting them
// would block the SQL-level vector search the repository performs.
func embeddingToBytes(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	out := make([]byte, 0, len(embedding)*4)
	for _, f := range embedding {
		bits := math.Float32bits(f)
		out = append(out, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return out
}

// bytesToEmbedding is the inverse of embeddingToBytes.
func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		off := i * 4
		bits := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
