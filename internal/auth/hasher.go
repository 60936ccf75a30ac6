package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sketchdev/wrestler/internal/model"
)

// SaltBytes はソルトのバイト長。
const SaltBytes = 32

var digests = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// PasswordHash はハッシュ値と導出パラメータの組。
// パラメータをハッシュと一緒に保存するため、既定値を変更しても既存ユーザーの検証は壊れない。
type PasswordHash struct {
	Hash       string
	Salt       string
	Iterations int
	Keylen     int
	Digest     string
}

// Fields はユーザードキュメントに保存するフィールドを返す。
func (p PasswordHash) Fields() model.Document {
	return model.Document{
		model.FieldPasswordHash: p.Hash,
		model.FieldSalt:         p.Salt,
		model.FieldIterations:   p.Iterations,
		model.FieldKeylen:       p.Keylen,
		model.FieldDigest:       p.Digest,
	}
}

// PasswordHashFromDocument はユーザードキュメントからPasswordHashを取り出す。
func PasswordHashFromDocument(doc model.Document) (PasswordHash, bool) {
	p := PasswordHash{
		Hash:   doc.String(model.FieldPasswordHash),
		Salt:   doc.String(model.FieldSalt),
		Digest: doc.String(model.FieldDigest),
	}
	var ok bool
	if p.Iterations, ok = model.IntValue(doc[model.FieldIterations]); !ok {
		return PasswordHash{}, false
	}
	if p.Keylen, ok = model.IntValue(doc[model.FieldKeylen]); !ok {
		return PasswordHash{}, false
	}
	if p.Hash == "" || p.Salt == "" {
		return PasswordHash{}, false
	}
	return p, true
}

// Hasher はPBKDF2でパスワードをハッシュ化する。
type Hasher struct {
	iterations int
	keylen     int
	digest     string
}

// NewHasher はHasherを生成する。digestはsha1・sha256・sha512のいずれか。
func NewHasher(iterations, keylen int, digest string) (*Hasher, error) {
	if _, ok := digests[digest]; !ok {
		return nil, fmt.Errorf("unsupported digest: %s", digest)
	}
	if iterations <= 0 || keylen <= 0 {
		return nil, fmt.Errorf("iterations and keylen must be positive")
	}
	return &Hasher{iterations: iterations, keylen: keylen, digest: digest}, nil
}

// Hash はランダムなソルトでパスワードをハッシュ化する。
func (h *Hasher) Hash(password string) (PasswordHash, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	p := PasswordHash{
		Salt:       hex.EncodeToString(salt),
		Iterations: h.iterations,
		Keylen:     h.keylen,
		Digest:     h.digest,
	}
	p.Hash = hex.EncodeToString(derive(password, p))
	return p, nil
}

// Verify は保存済みのパラメータでパスワードを再計算し、定数時間で比較する。
func (h *Hasher) Verify(password string, stored PasswordHash) bool {
	if _, ok := digests[stored.Digest]; !ok {
		return false
	}
	want, err := hex.DecodeString(stored.Hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, derive(password, stored)) == 1
}

func derive(password string, p PasswordHash) []byte {
	return pbkdf2.Key([]byte(password), []byte(p.Salt), p.Iterations, p.Keylen, digests[p.Digest])
}
