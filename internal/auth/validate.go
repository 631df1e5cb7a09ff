package auth

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ngMobilePattern はナイジェリア（en-NG）の携帯電話番号の形式です。
var ngMobilePattern = regexp.MustCompile(`^(\+?234|0)?[789]\d{9}$`)

var fieldValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 固定パターンなので登録は失敗しない
	_ = v.RegisterValidation("ng_mobile", func(fl validator.FieldLevel) bool {
		return ngMobilePattern.MatchString(fl.Field().String())
	})
	return v
}

func isEmail(s string) bool {
	return fieldValidator.Var(s, "required,email") == nil
}

func isMobilePhone(s string) bool {
	return fieldValidator.Var(s, "required,ng_mobile") == nil
}

// RegisterInput はユーザー登録の入力です。
type RegisterInput struct {
	Name        string
	Email       string
	School      string
	PhoneNumber string
	Password    string
}

// validate は先頭から順に検証し、最初の不備だけを返します。
func (in RegisterInput) validate() error {
	if in.Name == "" {
		return validationError("name", "ユーザー名の形式が正しくありません。確認して再度お試しください。")
	}
	if !isEmail(in.Email) {
		return validationError("email", "メールアドレスの形式が正しくありません。確認して再度お試しください。")
	}
	if in.School == "" {
		return validationError("school", "学校名の形式が正しくありません。確認して再度お試しください。")
	}
	if !isMobilePhone(in.PhoneNumber) {
		return validationError("phoneNumber", "電話番号の形式が正しくありません。確認して再度お試しください。")
	}
	if in.Password == "" {
		return validationError("password", "有効なパスワードを指定してください。")
	}
	return nil
}

func validateLogin(email, password string) error {
	if !isEmail(email) {
		return validationError("email", "メールアドレスの形式が正しくありません。確認して再度お試しください。")
	}
	if password == "" {
		return validationError("password", "パスワードを指定してください。")
	}
	return nil
}
