package main

import (
	"context"
	"os"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/cli"
	"github.com/xxxsen/romsort/internal/config"
	"go.uber.org/zap"
)

func main() {
	logger.Init("", "warn", 0, 0, 0, true)
	if err := cli.Execute(); err != nil {
		code := 1
		if config.IsError(err) {
			code = 2
		}
		logutil.GetLogger(context.Background()).Debug("exit", zap.Int("code", code))
		os.Exit(code)
	}
}
