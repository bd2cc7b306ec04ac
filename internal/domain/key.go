// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// SymmetricKeySize は対称鍵のバイト長（256 bits）。
const SymmetricKeySize = 32

// DefaultRSAKeyBits はRSA鍵の既定のモジュラス長。
const DefaultRSAKeyBits = 2048

// KeyAlgorithm は非対称鍵のアルゴリズムを表す。
type KeyAlgorithm string

const (
	// KeyAlgorithmRSA はRSA鍵ペアを表す。
	KeyAlgorithmRSA KeyAlgorithm = "RSA"
)

// SymmetricKey は乱数から生成された対称鍵。
type SymmetricKey [SymmetricKeySize]byte

// Hex は鍵を小文字16進文字列（64文字）で返す。
func (k SymmetricKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// Fingerprint は鍵のSHA-256ダイジェストを16進で返す。
func (k SymmetricKey) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:])
}

// KeyPairSpec は鍵ペア生成のパラメータ。
type KeyPairSpec struct {
	Algorithm KeyAlgorithm
	Bits      int
}

// KeyPair はPEM形式にシリアライズされた鍵ペア。
type KeyPair struct {
	Algorithm     KeyAlgorithm
	Bits          int
	PrivateKeyPEM []byte // PKCS#8, 暗号化なし
	PublicKeyPEM  []byte // SubjectPublicKeyInfo
	// PublicKeyFingerprint は公開鍵DERのSHA-256ダイジェスト（16進）。
	PublicKeyFingerprint string
}

// KeyName は外部に公開してよい鍵の種類。秘密鍵は含まない。
type KeyName string

const (
	KeyNameSymmetric KeyName = "symmetric"
	KeyNamePublic    KeyName = "public"
)
