package server

import (
	"strings"
	"time"

	"github.com/trackloop/studio-backend/internal/config"
	"github.com/trackloop/studio-backend/internal/middleware"
	"github.com/trackloop/studio-backend/internal/realtime"

	activityHttp "github.com/trackloop/studio-backend/internal/modules/activity/delivery/http"
	activityRepo "github.com/trackloop/studio-backend/internal/modules/activity/repository"
	activityService "github.com/trackloop/studio-backend/internal/modules/activity/service"

	membershipHttp "github.com/trackloop/studio-backend/internal/modules/membership/delivery/http"
	membershipRepo "github.com/trackloop/studio-backend/internal/modules/membership/repository"
	membershipService "github.com/trackloop/studio-backend/internal/modules/membership/service"

	searchService "github.com/trackloop/studio-backend/internal/modules/search/service"

	userHttp "github.com/trackloop/studio-backend/internal/modules/user/delivery/http"
	userRepo "github.com/trackloop/studio-backend/internal/modules/user/repository"
	userService "github.com/trackloop/studio-backend/internal/modules/user/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/meilisearch/meilisearch-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	engine      *gin.Engine
	db          *gorm.DB
	redisClient *redis.Client
}

func NewServer(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *Server {
	userRepository := userRepo.NewUserRepository(db)

	var searchSvc searchService.SearchService
	if cfg.MeiliSearchHost != "" {
		meiliHost := cfg.MeiliSearchHost
		if !strings.HasPrefix(meiliHost, "http") {
			meiliHost = "http://" + meiliHost + ":7700"
		}
		meiliClient := meilisearch.New(meiliHost, meilisearch.WithAPIKey(cfg.MeiliMasterKey))
		searchSvc = searchService.NewMeiliSearchService(meiliClient)
	}

	authSvc := userService.NewAuthService(userRepository)
	authHandler := userHttp.NewAuthHandler(authSvc)

	membershipRepository := membershipRepo.NewMembershipRepository(db)

	// Activity Feed Engine
	activityRepository := activityRepo.NewActivityRepository(db)
	visibilityRepository := activityRepo.NewVisibilityRepository(db)
	publisher := realtime.NewRedisPublisher(redisClient)
	activitySvc := activityService.NewActivityService(
		activityRepository,
		visibilityRepository,
		membershipRepository,
		publisher,
		searchSvc,
		cfg.ActorVisibility,
	)
	activityHandler := activityHttp.NewActivityHandler(activitySvc, redisClient)

	membershipSvc := membershipService.NewMembershipService(membershipRepository, userRepository, activitySvc)
	membershipHandler := membershipHttp.NewMembershipHandler(membershipSvc)

	router := gin.New()

	setupCORS(router, cfg)

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	authMiddleware := middleware.NewAuthMiddleware(userRepository)

	api := router.Group("/api")

	// Public routes (no auth required)
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	// Protected routes (apply auth middleware explicitly)
	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		protected.GET("/profile/me", authHandler.Me)

		// Activity feed routes
		activities := protected.Group("/activities")
		{
			activities.GET("", activityHandler.GetFeed)
			activities.GET("/unread-count", activityHandler.UnreadCount)
			activities.GET("/search", activityHandler.Search)
			activities.GET("/ws", activityHandler.HandleWebSocket)
			activities.PATCH("/read-all", activityHandler.MarkAllRead)
			activities.PATCH("/:id/read", activityHandler.MarkRead)
			activities.PATCH("/:id/undismiss", activityHandler.Undismiss)
			activities.DELETE("", activityHandler.DismissAll)
			activities.DELETE("/:id", activityHandler.Dismiss)

			// Producer boundary for out-of-process services
			activities.POST("", authMiddleware.RequireAdmin(), activityHandler.RecordActivity)
		}

		// Project routes
		protected.GET("/projects/:project_id/activities", activityHandler.ProjectLog)
		protected.GET("/projects/:project_id/members", membershipHandler.ListMembers)
		protected.POST("/projects/:project_id/members", membershipHandler.AddMember)
	}

	return &Server{
		engine:      router,
		db:          db,
		redisClient: redisClient,
	}
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func setupCORS(router *gin.Engine, cfg *config.Config) {
	origins := strings.Split(cfg.AllowedOrigins, ",")

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
