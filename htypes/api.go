package htypes

import (
	"fmt"
	"time"
)

// Api receives operational events from the pipeline. The default
// implementation drops everything; embedders may install their own.
type Api interface {
	Stat(isError bool, event string, context string, extra string)
}

var ApiInst Api = &NoopApi{}

func Stat(isError bool, event string, context string, extra string) {
	ApiInst.Stat(isError, event, context, extra)
}

func TimeToStat(d time.Duration) string {
	return fmt.Sprintf("%d", int64(d/time.Millisecond))
}

type NoopApi struct {
}

func (na *NoopApi) Stat(isError bool, event string, context string, extra string) {
}
