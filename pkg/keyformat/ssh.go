// Package keyformat は公開鍵の表示形式の変換を提供する。
package keyformat

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrInvalidPublicKey はPEMの公開鍵として解釈できない場合のエラー。
var ErrInvalidPublicKey = errors.New("invalid public key")

// Format は鍵の表示形式。
type Format string

const (
	FormatPEM Format = "pem"
	FormatSSH Format = "ssh"
)

// ParseFormat は表示形式を解釈する。空文字はPEM。
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatPEM:
		return FormatPEM, nil
	case FormatSSH:
		return FormatSSH, nil
	default:
		return "", fmt.Errorf("unsupported key format %q", s)
	}
}

func parsePEMPublicKey(pemData string) (ssh.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: no PUBLIC KEY block", ErrInvalidPublicKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return sshPub, nil
}

// AuthorizedKey はSPKI PEMの公開鍵をauthorized_keys形式の1行に変換する。
// comment が空でなければ行末に付与する。
func AuthorizedKey(pemData string, comment string) (string, error) {
	pub, err := parsePEMPublicKey(pemData)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line, nil
}

// SSHFingerprint はOpenSSH形式（SHA256:...）のフィンガープリントを返す。
func SSHFingerprint(pemData string) (string, error) {
	pub, err := parsePEMPublicKey(pemData)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(pub), nil
}
