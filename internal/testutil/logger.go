package testutil

import (
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// NullLogger 丢弃输出的 logger，hook 可用于断言日志内容
func NullLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}
