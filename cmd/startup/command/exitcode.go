package command

import "fmt"

type ExitCode int

const exitUnhealthy ExitCode = 3

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit code %d", e)
}
