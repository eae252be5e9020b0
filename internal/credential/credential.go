// Package credential 负责私有房间密码的存储形式和校验。
package credential

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// 存储模式
const (
	ModePlain  = "plain"  // 明文存储，等值比较（现有数据的格式）
	ModeBcrypt = "bcrypt" // bcrypt 哈希
)

// Verifier 把用户输入的密码转换为存储形式，并校验用户提交的凭据。
type Verifier interface {
	// Prepare returns the value to store for a newly created private room.
	Prepare(password string) (string, error)
	// Verify reports whether supplied matches the stored value.
	Verify(stored, supplied string) bool
	Mode() string
}

// New 根据模式创建 Verifier；空字符串表示 plain。
func New(mode string) (Verifier, error) {
	switch mode {
	case "", ModePlain:
		return plainVerifier{}, nil
	case ModeBcrypt:
		return bcryptVerifier{cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown room password mode %q", mode)
	}
}

type plainVerifier struct{}

func (plainVerifier) Prepare(password string) (string, error) { return password, nil }

func (plainVerifier) Verify(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func (plainVerifier) Mode() string { return ModePlain }

type bcryptVerifier struct {
	cost int
}

func (v bcryptVerifier) Prepare(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash room password: %w", err)
	}
	return string(hash), nil
}

func (bcryptVerifier) Verify(stored, supplied string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

func (bcryptVerifier) Mode() string { return ModeBcrypt }
