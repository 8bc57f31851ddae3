package main

import (
	"context"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const serviceName string = "kg-publisher"

func main() {
	serviceVersion := buildinfo.SourceVersion()
	logFormat := env.GetVariableOrDefault(context.Background(), "LOG_FORMAT", "json")

	ctx, log, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion, logFormat)

	err := newRootCommand().ExecuteContext(ctx)
	if err != nil {
		log.Error("command failed", "err", err.Error())
		cleanup()
		os.Exit(1)
	}

	cleanup()
}
