package main

import (
	"strings"
	"sync"

	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/repository"
	"gorm.io/gorm"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// openDB 打开历史数据库，调用方负责关闭
func (c *commandContext) openDB() (*gorm.DB, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := repository.Open(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.InitDB(db); err != nil {
		closeDB(db)
		return nil, nil, err
	}
	return db, func() { closeDB(db) }, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
