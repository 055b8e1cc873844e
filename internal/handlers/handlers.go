package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/config"
	"github.com/tu2l/identity-platform/internal/lockout"
	"github.com/tu2l/identity-platform/internal/mail"
	"github.com/tu2l/identity-platform/internal/middleware"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/repository"
	"github.com/tu2l/identity-platform/internal/revocation"
	"github.com/tu2l/identity-platform/internal/service"
	"github.com/tu2l/identity-platform/internal/token"
)

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	db          *pgxpool.Pool
	cache       *redis.Client
	authService *service.AuthService
	userService *service.UserService
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, mailer mail.Sender, cfg *config.AppConfig) HandlerSet {
	userRepo := repository.NewUserRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	revokedStore := revocation.NewStore(cache)

	codec := token.NewCodec(cfg.Security.JWTSecret, cfg.Security.Issuer, token.TTLConfig{
		Access:            cfg.Security.AccessTokenTTL,
		Refresh:           cfg.Security.RefreshTokenTTL,
		RememberMeRefresh: cfg.Security.RememberMeRefreshTTL,
		PasswordReset:     cfg.Security.PasswordResetTTL,
		EmailVerification: cfg.Security.EmailVerificationTTL,
	})
	policy := lockout.NewPolicy(cfg.Security.LockoutThreshold, cfg.Security.LockoutDuration)

	auth := service.NewAuthService(userRepo, credentialRepo, revokedStore, codec, policy, mailer, cfg.Security.Issuer, log)
	users := service.NewUserService(userRepo, credentialRepo, log)

	return HandlerSet{
		log:         log,
		cfg:         cfg,
		db:          db,
		cache:       cache,
		authService: auth,
		userService: users,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	user := router.Group("/user")
	{
		auth := user.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/authenticate", h.Authenticate)
		auth.POST("/refresh-token", h.RefreshToken)
		auth.POST("/logout", h.Logout)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
		auth.POST("/verify-email", h.VerifyEmail)

		me := user.Group("/me")
		me.GET("", h.Me)
		me.PUT("", h.UpdateMe)
		me.PUT("/password", h.ChangeMyPassword)
		me.DELETE("", h.DeleteMe)

		admin := user.Group("/admin")
		admin.Use(middleware.RequireRole(models.UserRoleAdmin))
		admin.GET("/users/:username", h.AdminGetUser)
		admin.POST("/users/:username/unlock", h.AdminUnlockUser)
		admin.DELETE("/users/:username", h.AdminDeleteUser)
	}
}
