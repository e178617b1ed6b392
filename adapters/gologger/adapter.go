package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootLoggerName = "apps"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = RootLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// AppLoggerName is the logger name a connected app adapter logs under.
func AppLoggerName(appName string) string {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return RootLoggerName
	}
	return RootLoggerName + "." + appName
}

// ForApp returns the named logger of one adapter, falling back to the root
// apps logger.
func ForApp(provider glog.LoggerProvider, logger glog.Logger, appName string) glog.Logger {
	_, resolved := Resolve(AppLoggerName(appName), provider, logger)
	return glog.Ensure(resolved)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the scheduler worker loggers for both glog and go-job.
func ResolveForJob(
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(RootLoggerName+".scheduler", provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
