//go:build !unix

package jobs

import (
	"errors"
	"io"
)

type unsupportedStarter struct{}

func defaultStarter() procStarter { return unsupportedStarter{} }

func (unsupportedStarter) startGroup([]string, []string, io.Writer, io.Writer) (groupProc, error) {
	return nil, errors.New("process groups are only supported on unix platforms")
}
