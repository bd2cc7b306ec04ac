// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"key-provisioning-service/internal/domain"
)

const (
	minRSAKeyBits = 1024
	maxRSAKeyBits = 16384

	symmetricKeyPerm fs.FileMode = 0o600
	privateKeyPerm   fs.FileMode = 0o600
	publicKeyPerm    fs.FileMode = 0o644

	privateKeyPEMType = "PRIVATE KEY"
	publicKeyPEMType  = "PUBLIC KEY"
)

// KeyFileStore はワークスペースと鍵ファイルの永続化インターフェース。
type KeyFileStore interface {
	ResetWorkspaces(ctx context.Context, paths []string) error
	WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error
	ReadKeyFile(ctx context.Context, path string) (string, error)
	Remove(ctx context.Context, path string) error
}

// KeyGenerator は鍵を生成してファイルに保存する。
type KeyGenerator struct {
	store  KeyFileStore
	random io.Reader
	// marshalPublicKey は公開鍵をSubjectPublicKeyInfo DERにエンコードする。
	marshalPublicKey func(pub any) ([]byte, error)
}

// NewKeyGenerator は新しいKeyGeneratorを生成する。randomがnilの場合はcrypto/randを使う。
func NewKeyGenerator(store KeyFileStore, random io.Reader) *KeyGenerator {
	if random == nil {
		random = rand.Reader
	}
	return &KeyGenerator{
		store:            store,
		random:           random,
		marshalPublicKey: x509.MarshalPKIXPublicKey,
	}
}

// GenerateSymmetricKey は32バイトの対称鍵を生成し、小文字16進でpathに書き込む。
// 呼び出すたびに新しい鍵でファイルを上書きする。
func (g *KeyGenerator) GenerateSymmetricKey(ctx context.Context, path string) (domain.SymmetricKey, error) {
	var key domain.SymmetricKey
	if _, err := io.ReadFull(g.random, key[:]); err != nil {
		slog.ErrorContext(ctx, "failed to read random bytes",
			"operation", "generate_symmetric_key",
			"error", err,
		)
		return domain.SymmetricKey{}, domain.NewKeyError(domain.ErrRandomSourceUnavailable, "", err)
	}

	if err := g.store.WriteFile(ctx, path, []byte(key.Hex()), symmetricKeyPerm); err != nil {
		return domain.SymmetricKey{}, domain.NewKeyError(domain.ErrKeyWriteFailed, path, err)
	}

	return key, nil
}

// GenerateKeyPair はRSA鍵ペアを生成し、秘密鍵（PKCS#8 PEM）と公開鍵（SPKI PEM）を書き込む。
// 公開鍵はメモリ上の秘密鍵から導出する。公開鍵の書き込みに失敗した場合は
// 同じ呼び出しで書き込んだ秘密鍵ファイルを削除する。
func (g *KeyGenerator) GenerateKeyPair(ctx context.Context, spec domain.KeyPairSpec, privatePath, publicPath string) (*domain.KeyPair, error) {
	if spec.Algorithm != domain.KeyAlgorithmRSA {
		return nil, domain.NewKeyError(domain.ErrKeyPairGenerationFailed, "",
			fmt.Errorf("unsupported algorithm %q", spec.Algorithm))
	}
	if spec.Bits < minRSAKeyBits || spec.Bits > maxRSAKeyBits {
		return nil, domain.NewKeyError(domain.ErrKeyPairGenerationFailed, "",
			fmt.Errorf("unsupported modulus size %d (want %d..%d)", spec.Bits, minRSAKeyBits, maxRSAKeyBits))
	}

	privateKey, err := rsa.GenerateKey(g.random, spec.Bits)
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate RSA key",
			"operation", "generate_key_pair",
			"bits", spec.Bits,
			"error", err,
		)
		return nil, domain.NewKeyError(domain.ErrKeyPairGenerationFailed, "", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, domain.NewKeyError(domain.ErrPrivateKeyWriteFailed, privatePath,
			fmt.Errorf("exporting private key: %w", err))
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: privateDER})

	publicDER, err := g.marshalPublicKey(privateKey.Public())
	if err != nil {
		return nil, domain.NewKeyError(domain.ErrPublicKeyDerivationFailed, "", err)
	}
	if len(publicDER) == 0 {
		return nil, domain.NewKeyError(domain.ErrPublicKeyDerivationFailed, "", nil)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: publicDER})

	if err := g.store.WriteFile(ctx, privatePath, privatePEM, privateKeyPerm); err != nil {
		return nil, domain.NewKeyError(domain.ErrPrivateKeyWriteFailed, privatePath, err)
	}
	if err := g.store.WriteFile(ctx, publicPath, publicPEM, publicKeyPerm); err != nil {
		if rmErr := g.store.Remove(ctx, privatePath); rmErr != nil {
			slog.ErrorContext(ctx, "failed to remove orphaned private key",
				"operation", "generate_key_pair",
				"path", privatePath,
				"error", rmErr,
			)
		}
		return nil, domain.NewKeyError(domain.ErrPublicKeyWriteFailed, publicPath, err)
	}

	sum := sha256.Sum256(publicDER)
	return &domain.KeyPair{
		Algorithm:            spec.Algorithm,
		Bits:                 spec.Bits,
		PrivateKeyPEM:        privatePEM,
		PublicKeyPEM:         publicPEM,
		PublicKeyFingerprint: hex.EncodeToString(sum[:]),
	}, nil
}
