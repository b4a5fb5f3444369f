// Package keyexchange 持有服务端的 RSA 密钥对，用于解密客户端用公钥加密的字段。
//
// 公钥以 X.509 SubjectPublicKeyInfo DER 编码，私钥以 PKCS#8 DER 编码，
// 密文为标准 base64 的 RSA PKCS#1 v1.5 结果，与 Java 客户端默认的 "RSA" 算法兼容。
package keyexchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	KeySize        = 2048
	PublicKeyFile  = "public.key"
	PrivateKeyFile = "private.key"
)

var ErrSignature = errors.New("signature error")

// KeyExchange 初始化后只读，可并发使用
type KeyExchange struct {
	private   *rsa.PrivateKey
	publicDER []byte
}

// LoadOrGenerate 从 dir 读取密钥对，任一文件缺失时重新生成并写入
func LoadOrGenerate(dir string) (*KeyExchange, error) {
	publicPath := filepath.Join(dir, PublicKeyFile)
	privatePath := filepath.Join(dir, PrivateKeyFile)

	if !exists(publicPath) || !exists(privatePath) {
		kx, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := kx.write(dir, publicPath, privatePath); err != nil {
			return nil, err
		}
		slog.Info("已生成新的密钥对", "dir", dir, "fingerprint", kx.Fingerprint())
		return kx, nil
	}

	publicDER, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	privateDER, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	kx, err := Parse(publicDER, privateDER)
	if err != nil {
		return nil, err
	}
	slog.Info("已从文件加载密钥对", "path", privatePath, "fingerprint", kx.Fingerprint())
	return kx, nil
}

// Generate 生成新的内存密钥对
func Generate() (*KeyExchange, error) {
	private, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyExchange{private: private, publicDER: publicDER}, nil
}

// Parse 从 DER 编码还原密钥对，并校验公私钥匹配
func Parse(publicDER, privateDER []byte) (*KeyExchange, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(privateDER)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want rsa", parsed)
	}
	pub, err := x509.ParsePKIXPublicKey(publicDER)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok || !rsaPub.Equal(&private.PublicKey) {
		return nil, errors.New("public key does not match private key")
	}
	return &KeyExchange{private: private, publicDER: publicDER}, nil
}

// PublicKey 返回编码后的公钥副本
func (k *KeyExchange) PublicKey() []byte {
	out := make([]byte, len(k.publicDER))
	copy(out, k.publicDER)
	return out
}

// Fingerprint 公钥 DER 的 SHA-256，用于日志
func (k *KeyExchange) Fingerprint() string {
	sum := sha256.Sum256(k.publicDER)
	return hex.EncodeToString(sum[:])
}

// Decrypt 解密 base64 密文，任何失败都返回 ErrSignature
func (k *KeyExchange) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrSignature
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, raw)
	if err != nil {
		return "", ErrSignature
	}
	return string(plain), nil
}

// Encrypt 客户端侧的加密，使用 DER 编码的公钥
func Encrypt(publicDER []byte, plaintext string) (string, error) {
	pub, err := x509.ParsePKIXPublicKey(publicDER)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("public key is %T, want rsa", pub)
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (k *KeyExchange) write(dir, publicPath, privatePath string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	privateDER, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(publicPath, k.publicDER, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privatePath, privateDER, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
