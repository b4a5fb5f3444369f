// Package hasher 对许可证密钥和客户端 IP 做确定性的加盐单向哈希。
//
// 同一类别使用进程级固定盐，相同输入总是得到相同输出，
// 哈希结果可以直接作为数据库查询键，但无法还原原文。
package hasher

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Category int

const (
	CategoryLicense Category = iota
	CategoryIP
)

func (c Category) String() string {
	switch c {
	case CategoryLicense:
		return "license"
	case CategoryIP:
		return "ip"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

const (
	MinSaltLength = 16
	keyLength     = 32
)

// Salts 各类别的盐
type Salts struct {
	Licenses string
	IPs      string
}

// Params argon2id 参数
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams OWASP 建议的 argon2id 最低配置
func DefaultParams() Params {
	return Params{Time: 2, MemoryKiB: 19 * 1024, Threads: 1}
}

type Hasher struct {
	salts  map[Category][]byte
	params Params
}

func New(salts Salts, params Params) (*Hasher, error) {
	if len(salts.Licenses) < MinSaltLength || len(salts.IPs) < MinSaltLength {
		return nil, fmt.Errorf("salts must be at least %d bytes", MinSaltLength)
	}
	if salts.Licenses == salts.IPs {
		return nil, errors.New("license and ip salts must differ")
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, errors.New("argon2 params must be positive")
	}
	return &Hasher{
		salts: map[Category][]byte{
			CategoryLicense: []byte(salts.Licenses),
			CategoryIP:      []byte(salts.IPs),
		},
		params: params,
	}, nil
}

// Hash 计算输入的哈希，category 只能是包内常量
func (h *Hasher) Hash(category Category, input string) string {
	salt, ok := h.salts[category]
	if !ok {
		panic("hasher: unknown category " + category.String())
	}
	sum := argon2.IDKey([]byte(input), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, keyLength)
	return base64.RawStdEncoding.EncodeToString(sum)
}

func (h *Hasher) License(rawKey string) string {
	return h.Hash(CategoryLicense, rawKey)
}

func (h *Hasher) IP(ip string) string {
	return h.Hash(CategoryIP, ip)
}
