package logging

import "go.uber.org/zap"

// Bootstrap returns a console logger on stderr for failures that happen
// before configuration has been loaded.
func Bootstrap() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}
