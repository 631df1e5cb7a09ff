package auth

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類です。ハンドラーはこれを HTTP ステータスに対応付けます。
type Kind int

const (
	KindInternal   Kind = iota // ストア障害など（詳細はクライアントに返さない）
	KindValidation             // 入力値の不備
	KindConflict               // 一意制約違反（email 重複）
	KindCredential             // email 不明またはパスワード不一致
	KindThrottled              // ログイン試行回数超過
)

// Error は認証処理のエラー情報を保持します。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string // 入力エラーの場合の対象フィールド
	Err     error  // 内部エラーの原因
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrUserExists は同じ email のユーザーが既に存在する場合に返されます。
	ErrUserExists = &Error{
		Kind:    KindConflict,
		Code:    "USER_ALREADY_EXISTS",
		Message: "このメールアドレスのユーザーは既に存在します。",
	}

	// ErrInvalidCredentials は email 不明とパスワード不一致の両方で返されます。
	ErrInvalidCredentials = &Error{
		Kind:    KindCredential,
		Code:    "INVALID_CREDENTIALS",
		Message: "メールアドレスまたはパスワードが正しくありません。",
	}
)

func validationError(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "INVALID_INPUT",
		Message: message,
		Field:   field,
	}
}

func internalError(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "サーバー内部でエラーが発生しました。時間をおいて再度お試しください。",
		Err:     err,
	}
}

// KindOf は err の分類を返します。*Error 以外は KindInternal です。
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}
