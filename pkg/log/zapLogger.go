package log

import (
	"errors"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func InitLogger() {
	var logger *zap.Logger
	var err error

	if viper.GetBool("logging.development") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(errors.New("Fatal error during create logger" + err.Error()))
	}
	zap.ReplaceGlobals(logger)
}
