package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsjunkies/api/handlers"
	"newsjunkies/api/middleware"
)

func PublicApi(router *gin.Engine, h *handlers.Handlers, verifier middleware.TokenVerifier) *gin.RouterGroup {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/media/:bucket/*path", h.Media)

	publicEndpoints := router.Group("/api/v1/")
	{
		publicEndpoints.POST("auth/signup", h.SignUp)
		publicEndpoints.POST("auth/signin", h.SignIn)
	}

	// доступно и без входа, с сессией ответ персонализирован
	optional := publicEndpoints.Group("", middleware.OptionalAuthMiddleware(verifier))
	{
		optional.GET("feed", h.Feed)
		optional.GET("users/:id/posts", h.UserPosts)
		optional.GET("profile/:id", h.GetProfile)
		optional.GET("profiles", h.ListProfiles)
	}

	private := publicEndpoints.Group("", middleware.AuthMiddleware(verifier))
	{
		private.POST("auth/signout", h.SignOut)
		private.GET("feed/following", h.FollowingFeed)

		private.POST("posts", h.CreatePost)
		private.PATCH("posts/:id", h.UpdatePost)
		private.DELETE("posts/:id", h.DeletePost)
		private.POST("posts/:id/share", h.SharePost)
		private.DELETE("posts/:id/share", h.UnsharePost)

		private.PUT("profile", h.UpdateProfile)
		private.POST("profile/picture", h.UploadPicture)
		private.DELETE("profile/picture", h.DeletePicture)
		private.GET("profile/tags", h.RecentTags)
		private.POST("profile/tags", h.TrackTag)

		private.POST("follow/:id", h.Follow)
		private.DELETE("follow/:id", h.Unfollow)

		private.GET("ws", h.WSHandler)
	}
	return publicEndpoints
}
