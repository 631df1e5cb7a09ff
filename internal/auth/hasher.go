package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost は1回あたり数十ミリ秒程度になるコストです。
const DefaultBcryptCost = 10

// PasswordHasher はパスワードのハッシュ化と照合を行います。
type PasswordHasher interface {
	// Hash はソルト付きの一方向ハッシュを返します。
	Hash(password string) (string, error)
	// Verify は一致すれば (true, nil)、不一致なら (false, nil)、ハッシュが壊れていればエラーを返します。
	Verify(password, hash string) (bool, error)
}

// BcryptHasher は bcrypt による PasswordHasher です。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher は BcryptHasher を作成します。cost は bcrypt の範囲に丸めます。
func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost は使用するコストを返します。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash はパスワードをハッシュ化します。
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify はパスワードとハッシュを定数時間で照合します。
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
