package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/authcore/internal/account"
	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// ResetPath is where reset links point; the token is appended as the last
// path segment.
const ResetPath = "/api/v1/users/resetPassword"

type Accounts interface {
	SignUp(ctx context.Context, in account.SignUpInput) (auth.Session, error)
	Login(ctx context.Context, in account.LoginInput) (auth.Session, error)
	ForgotPassword(ctx context.Context, in account.ForgotPasswordInput) error
	ResetPassword(ctx context.Context, in account.ResetPasswordInput) (auth.Session, error)
	UpdatePassword(ctx context.Context, in account.UpdatePasswordInput) (auth.Session, error)
	Profile(ctx context.Context, id string) (user.Profile, error)
}

// OutcomeRecorder counts flow results; *observability.Prom satisfies it.
type OutcomeRecorder interface {
	AuthOutcome(flow, outcome string)
}

type UsersHandler struct {
	accounts Accounts
	outcomes OutcomeRecorder
	log      *slog.Logger

	// resetURLBase overrides the link host; empty means derive it from the request.
	resetURLBase string
	// mail delivery is slow; everything else is a couple of queries and a bcrypt
	timeout     time.Duration
	mailTimeout time.Duration
}

type UsersHandlerOptions struct {
	ResetURLBase string
	Timeout      time.Duration
	MailTimeout  time.Duration
}

func NewUsersHandler(accounts Accounts, outcomes OutcomeRecorder, log *slog.Logger, opts UsersHandlerOptions) *UsersHandler {
	if log == nil {
		log = slog.Default()
	}
	if outcomes == nil {
		outcomes = noopOutcomes{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = 15 * time.Second
	}

	return &UsersHandler{
		accounts:     accounts,
		outcomes:     outcomes,
		log:          log,
		resetURLBase: strings.TrimRight(opts.ResetURLBase, "/"),
		timeout:      opts.Timeout,
		mailTimeout:  opts.MailTimeout,
	}
}

type SignUpRequest struct {
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Password          string     `json:"password"`
	ConfirmPassword   string     `json:"confirmPassword"`
	Role              string     `json:"role"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *UsersHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	sess, err := h.accounts.SignUp(cctx, account.SignUpInput{
		Name:              req.Name,
		Email:             req.Email,
		Password:          req.Password,
		ConfirmPassword:   req.ConfirmPassword,
		Role:              req.Role,
		PasswordChangedAt: req.PasswordChangedAt,
	})

	h.respondSession(ctx, "signup", http.StatusCreated, sess, err)
}

func (h *UsersHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	sess, err := h.accounts.Login(cctx, account.LoginInput{Email: req.Email, Password: req.Password})

	h.respondSession(ctx, "login", http.StatusOK, sess, err)
}

func (h *UsersHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.mailTimeout)
	defer cancel()

	err := h.accounts.ForgotPassword(cctx, account.ForgotPasswordInput{
		Email:        req.Email,
		ResetURLBase: h.resetBase(ctx),
	})
	if err != nil {
		h.fail(ctx, "forgot_password", err)
		return
	}

	h.outcomes.AuthOutcome("forgot_password", "ok")

	ctx.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Token sent to email!",
	})
}

func (h *UsersHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	sess, err := h.accounts.ResetPassword(cctx, account.ResetPasswordInput{
		Token:           ctx.Param("token"),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})

	h.respondSession(ctx, "reset_password", http.StatusOK, sess, err)
}

// UpdatePassword must be mounted behind the auth middleware.
func (h *UsersHandler) UpdatePassword(ctx *gin.Context) {
	var req UpdatePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	sess, err := h.accounts.UpdatePassword(cctx, account.UpdatePasswordInput{
		CurrentPassword: req.CurrentPassword,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})

	h.respondSession(ctx, "update_password", http.StatusOK, sess, err)
}

// Me returns the caller's own profile.
func (h *UsersHandler) Me(ctx *gin.Context) {
	id, ok := auth.IdentityFrom(ctx.Request.Context())
	if !ok {
		AbortWithError(ctx, auth.ErrNoAccess)
		return
	}

	respondProfile(ctx, gin.H{
		"status": "success",
		"data":   gin.H{"user": id.User.Profile()},
	})
}

// GetUser looks up any user by id; mounted behind the role gate.
func (h *UsersHandler) GetUser(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	p, err := h.accounts.Profile(cctx, ctx.Param("id"))
	if err != nil {
		h.fail(ctx, "get_user", err)
		return
	}

	respondProfile(ctx, gin.H{
		"status": "success",
		"data":   gin.H{"user": p},
	})
}

func (h *UsersHandler) respondSession(ctx *gin.Context, flow string, status int, sess auth.Session, err error) {
	if err != nil {
		h.fail(ctx, flow, err)
		return
	}

	h.outcomes.AuthOutcome(flow, "ok")

	http.SetCookie(ctx.Writer, &http.Cookie{
		Name:     sess.Cookie.Name,
		Value:    sess.Cookie.Value,
		Path:     "/",
		Expires:  sess.Cookie.Expires,
		HttpOnly: sess.Cookie.HTTPOnly,
		Secure:   sess.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	ctx.JSON(status, gin.H{
		"status": "success",
		"token":  sess.Token,
		"data":   gin.H{"user": sess.User},
	})
}

func (h *UsersHandler) fail(ctx *gin.Context, flow string, err error) {
	status, code, message := ErrorStatus(err)

	h.outcomes.AuthOutcome(flow, code)

	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(ctx.Request.Context(), "request failed", "flow", flow, "err", err)
	}

	RespondError(ctx, status, code, message, errorDetails(err))
}

func (h *UsersHandler) resetBase(ctx *gin.Context) string {
	if h.resetURLBase != "" {
		return h.resetURLBase
	}

	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	switch fwd := strings.ToLower(strings.TrimSpace(ctx.GetHeader("X-Forwarded-Proto"))); fwd {
	case "http", "https":
		scheme = fwd
	}

	return scheme + "://" + ctx.Request.Host + ResetPath
}

// noopOutcomes is used when metrics are not wired.
type noopOutcomes struct{}

func (noopOutcomes) AuthOutcome(string, string) {}
