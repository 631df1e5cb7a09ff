package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/campus-auth/internal/logging"
	"github.com/yourusername/campus-auth/internal/metrics"
)

const (
	// SessionCookieName はセッションIDを写しておく署名付きCookieの名前です。
	SessionCookieName = "ca_session"
	sessionKeyID      = "session_id"

	opRegister = "register"
	opLogin    = "login"
	opLogout   = "logout"
)

// CredentialService はハンドラーが利用する認証サービスです。
type CredentialService interface {
	Register(ctx context.Context, in RegisterInput) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, sessionID string) error
}

// HandlerOptions はハンドラー共通の設定です。
type HandlerOptions struct {
	Throttle *Throttle
	Metrics  *metrics.Auth
	Logger   *slog.Logger
	// SessionCookie が true の場合、sessions ミドルウェアが組み込まれている前提で
	// セッションIDを Cookie にも保存します。
	SessionCookie bool
}

type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	School      string `json:"school"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

// RegisterRoutes は /register, /login, /logout を rg に登録します。
func RegisterRoutes(rg *gin.RouterGroup, svc CredentialService, opts HandlerOptions) {
	rg.POST("/register", RegisterHandler(svc, opts))
	rg.POST("/login", LoginHandler(svc, opts))
	rg.POST("/logout", LogoutHandler(svc, opts))
}

// RegisterHandler は POST /api/register のハンドラーを返します。
func RegisterHandler(svc CredentialService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidBody(c, opts, opRegister)
			return
		}

		sessionID, err := svc.Register(c.Request.Context(), RegisterInput{
			Name:        req.Name,
			Email:       req.Email,
			School:      req.School,
			PhoneNumber: req.PhoneNumber,
			Password:    req.Password,
		})
		if err != nil {
			respondWithError(c, opts, opRegister, err)
			return
		}

		rememberSession(c, opts, sessionID)
		opts.Metrics.Observe(opRegister, metrics.OutcomeOK)
		c.JSON(http.StatusOK, gin.H{"user": sessionID})
	}
}

// LoginHandler は POST /api/login のハンドラーです。
func LoginHandler(svc CredentialService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if retryAfter := opts.Throttle.Check(ip); retryAfter > 0 {
			// Retry-After は秒数で返す
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
			respondWithError(c, opts, opLogin, &Error{
				Kind:    KindThrottled,
				Code:    "TOO_MANY_ATTEMPTS",
				Message: "一定時間後に再度お試しください。",
			})
			return
		}

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidBody(c, opts, opLogin)
			return
		}

		sessionID, err := svc.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				opts.Throttle.Fail(ip)
			}
			respondWithError(c, opts, opLogin, err)
			return
		}

		opts.Throttle.Reset(ip)
		rememberSession(c, opts, sessionID)
		opts.Metrics.Observe(opLogin, metrics.OutcomeOK)
		c.JSON(http.StatusOK, gin.H{"user": sessionID})
	}
}

// LogoutHandler は POST /api/logout のハンドラーです。
// body に sessionId がない場合は Cookie に保存したIDを使います。
func LogoutHandler(svc CredentialService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req logoutRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondInvalidBody(c, opts, opLogout)
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = rememberedSession(c, opts)
		}

		if err := svc.Logout(c.Request.Context(), sessionID); err != nil {
			respondWithError(c, opts, opLogout, err)
			return
		}

		forgetSession(c, opts)
		opts.Metrics.Observe(opLogout, metrics.OutcomeOK)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func respondInvalidBody(c *gin.Context, opts HandlerOptions, op string) {
	respondWithError(c, opts, op, validationError("", "リクエストボディを JSON で送ってください。"))
}

func respondWithError(c *gin.Context, opts HandlerOptions, op string, err error) {
	if errors.Is(err, context.Canceled) {
		opts.Metrics.Observe(op, "REQUEST_CANCELED")
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
		return
	}

	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = internalError(err)
	}

	status := http.StatusInternalServerError
	switch authErr.Kind {
	case KindValidation, KindConflict:
		status = http.StatusBadRequest
	case KindCredential:
		status = http.StatusNotFound
	case KindThrottled:
		status = http.StatusTooManyRequests
	default:
		logging.LogError(logging.FromContext(c, opts.Logger), op+" failed", err, "operation", op)
	}

	body := gin.H{
		"code":    authErr.Code,
		"message": authErr.Message,
	}
	if authErr.Field != "" {
		body["field"] = authErr.Field
	}

	opts.Metrics.Observe(op, authErr.Code)
	c.JSON(status, body)
}

func rememberSession(c *gin.Context, opts HandlerOptions, sessionID string) {
	if !opts.SessionCookie {
		return
	}
	session := sessions.Default(c)
	session.Set(sessionKeyID, sessionID)
	if err := session.Save(); err != nil {
		logging.FromContext(c, opts.Logger).Warn("failed to save session cookie", "error", err)
	}
}

func rememberedSession(c *gin.Context, opts HandlerOptions) string {
	if !opts.SessionCookie {
		return ""
	}
	id, _ := sessions.Default(c).Get(sessionKeyID).(string)
	return id
}

func forgetSession(c *gin.Context, opts HandlerOptions) {
	if !opts.SessionCookie {
		return
	}
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		logging.FromContext(c, opts.Logger).Warn("failed to clear session cookie", "error", err)
	}
}
