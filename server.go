package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"newsjunkies/api/handlers"
	"newsjunkies/api/middleware"
	"newsjunkies/api/routes"
	"newsjunkies/config"
	"newsjunkies/db"
	"newsjunkies/gateway"
	"newsjunkies/models"
	"newsjunkies/services"
	"newsjunkies/session"
)

const usage = `News Junkies backend.

Usage:
    newsjunkies [--config=<path>] [--memory] [--v=<level>]
    newsjunkies -h | --help

Options:
    -h --help          Show this screen.
    --config=<path>    Path to the configuration file [default: config.yaml].
    --memory           Keep rows in process memory instead of the database.
    --v=<level>        Log verbosity [default: 0].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}
	level, _ := opts.String("--v")
	_ = flag.Set("logtostderr", "true")
	_ = flag.Set("v", level)
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	configPath, _ := opts.String("--config")
	if err := config.LoadConfig(configPath); err != nil {
		if !os.IsNotExist(err) {
			glog.Fatalf("Failed to load configuration: %v", err)
		}
		glog.Warningf("config %s not found, using defaults", configPath)
		config.AppConfig = config.Default()
	}
	conf := config.AppConfig
	if level == "0" && conf.Logs.Level == "debug" {
		_ = flag.Set("v", "1")
	}
	memory, _ := opts.Bool("--memory")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, blobs, cleanup, err := openGateway(ctx, conf, memory)
	if err != nil {
		glog.Fatalf("Failed to open storage: %v", err)
	}
	defer cleanup()

	if conf.Redis.Host != "" {
		if err := services.InitRedis(); err != nil {
			glog.Fatalf("%v", err)
		}
		defer services.CloseRedis()
		gw = services.NewCachedGateway(gw, services.RedisClient, conf.Redis.ProfileTTL)
		glog.Infof("profile rows cached in Redis for %s", conf.Redis.ProfileTTL)
	}

	origin := ulid.Make().String()
	var events services.EventPublisher = services.NopPublisher{}
	var bus *services.EventBus
	if conf.RabbitMQ.URL != "" {
		bus, err = services.NewEventBus(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange, origin)
		if err != nil {
			glog.Fatalf("%v", err)
		}
		defer bus.Close()
		events = bus
	}

	if conf.Auth.JWTSecret == "" {
		glog.Fatal("auth.jwt_secret (or JWT_SECRET) is required")
	}
	auth := services.NewAuthenticator(gw, conf.Auth.JWTSecret, conf.Auth.TokenTTL)
	registry := session.NewRegistry(auth, session.Deps{
		Gateway:     gw,
		Events:      events,
		FeedLimit:   conf.Feed.DefaultLimit,
		FeedMax:     conf.Feed.MaxLimit,
		PictureSize: conf.Media.PictureMax,
	}, origin)

	if bus != nil {
		queue := conf.RabbitMQ.Queue
		if queue != "" {
			queue = queue + "." + origin
		}
		if err := bus.Consume(ctx, queue, registry.HandleEvent); err != nil {
			glog.Fatalf("%v", err)
		}
	}

	h := handlers.New(registry, gw, blobs)
	h.FeedLimit = conf.Feed.DefaultLimit
	h.FeedMax = conf.Feed.MaxLimit
	h.MaxUpload = conf.Media.MaxUpload

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware("newsjunkies"))
	routes.PublicApi(router, h, auth)

	addr := fmt.Sprintf("%s:%d", conf.Backend.Host, conf.Backend.Port)
	glog.Infof("Starting server on %s (instance %s)", addr, origin)
	go func() {
		if err := router.Run(addr); err != nil {
			glog.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()
	glog.Info("shutting down")
}

// openGateway выбирает хранилище строк и блобов по конфигу
func openGateway(ctx context.Context, conf *config.ConfigSchema, memory bool) (gateway.Gateway, handlers.BlobReader, func(), error) {
	if memory {
		mem := gateway.NewMemory()
		mem.AddUniqueKey(models.TableShares, "user_id", "post_id")
		mem.AddUniqueKey(models.TableFollows, "follower_id", "following_id")
		mem.AddUniqueKey(models.TableAccounts, "email")
		glog.Warning("rows are kept in memory and will be lost on exit")
		return mem, mem, func() {}, nil
	}

	cleanup := func() {}
	var (
		blobStore  gateway.BlobStore
		blobReader handlers.BlobReader
	)
	if conf.Mongo.URI != "" {
		gridfs, err := db.NewGridFSBlobs(ctx, conf.Mongo.URI, conf.Mongo.Database, conf.Media.PublicURL)
		if err != nil {
			return nil, nil, nil, err
		}
		blobStore, blobReader = gridfs, gridfs
		cleanup = func() {
			if err := gridfs.Close(context.Background()); err != nil {
				glog.Warningf("close mongo: %v", err)
			}
		}
	} else {
		glog.Warning("mongo.uri is not set, profile pictures are disabled")
	}

	if err := db.ConnectDB(); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return db.NewGateway(db.ORM, blobStore), blobReader, cleanup, nil
}
