package autoload

import (
	configx "atendai/pkg/config"
	logx "atendai/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
