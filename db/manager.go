package db

import (
	"fmt"

	"github.com/golang/glog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"

	"newsjunkies/config"
)

var ORM *gorm.DB

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		// ошибки уникальности приходят как gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

// ConnectDB поднимает подключение по AppConfig: postgres (мастер + реплики) или sqlite
func ConnectDB() (err error) {
	if ORM != nil {
		glog.Info("ORM is already initialized")
		return nil
	}

	var conf = config.AppConfig
	if conf == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}

	var orm *gorm.DB
	switch conf.Databases.Driver {
	case "sqlite":
		orm, err = OpenSQLite(conf.Databases.SQLitePath)
	case "postgres":
		orm, err = openPostgres(conf)
	default:
		err = fmt.Errorf("unknown database driver %q", conf.Databases.Driver)
	}
	if err != nil {
		return err
	}

	ORM = orm
	return nil
}

func openPostgres(conf *config.ConfigSchema) (*gorm.DB, error) {
	if conf.Databases.Master.Host == "" {
		return nil, fmt.Errorf("Master database configuration is missing")
	}

	// Initialize the ORM with the master database
	masterDSN := dsnFromConfig(conf.Databases.Master)
	// Init replicas
	replicaDSNs := make([]gorm.Dialector, 0, len(conf.Databases.Replicas))
	for _, r := range conf.Databases.Replicas {
		replicaDSNs = append(replicaDSNs, postgres.Open(dsnFromConfig(r)))
	}

	orm, err := gorm.Open(postgres.Open(masterDSN), gormConfig())
	if err != nil {
		return nil, err
	}

	if len(replicaDSNs) > 0 {
		err = orm.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicaDSNs,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, err
		}
		glog.Infof("postgres: master + %d replicas", len(replicaDSNs))
	}

	if err = Migrate(orm); err != nil {
		return nil, err
	}
	return orm, nil
}

// OpenSQLite открывает sqlite-базу (":memory:" для тестов) и применяет миграции
func OpenSQLite(path string) (*gorm.DB, error) {
	orm, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// у каждого соединения своя in-memory база
		sqlDB, err := orm.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err = Migrate(orm); err != nil {
		return nil, err
	}
	return orm, nil
}
